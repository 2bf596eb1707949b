// Package sshutil provides the SSH and SFTP plumbing used to fetch key
// material from remote hosts.
//
// # Overview
//
//   - [Dial]: an authenticated [Conn] using a key file, inline key or password,
//     with known_hosts verification
//   - [Conn.ReadFile]: bounded read of one regular file over SFTP
//   - [FetchFile]: dial, read one file, disconnect
//
// # Basic Usage
//
//	config, path, err := sshutil.ParseURL("sftp://whodis@keys.example.net/etc/whodis/update.key")
//	if err != nil {
//		return err
//	}
//	config.KeyFile = "/root/.ssh/id_ed25519"
//
//	pemBytes, err := sshutil.FetchFile(ctx, config, path, sshutil.WithLogger(logger))
//
// # Configuration from Environment
//
// Settings can be overlaid from environment variables using the Docker
// secrets pattern (values can be in files via the _FILE suffix):
//
//	err := config.ApplyEnv("WHODIS_KEY_SFTP_")
//
// This reads variables like:
//   - WHODIS_KEY_SFTP_USER
//   - WHODIS_KEY_SFTP_KEY_FILE
//   - WHODIS_KEY_SFTP_PASSWORD (or WHODIS_KEY_SFTP_PASSWORD_FILE)
//   - WHODIS_KEY_SFTP_KNOWN_HOSTS
//
// # Security Considerations
//
// Host keys are verified against ~/.ssh/known_hosts unless another file is
// configured. Verification is only skipped when InsecureIgnoreHostKey is set.
package sshutil
