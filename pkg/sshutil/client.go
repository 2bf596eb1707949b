package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors for SSH connections.
var (
	// ErrAuthenticationFailed is returned when the server rejects every offered credential.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")

	// ErrConnectionTimeout is returned when dialing or the handshake does not finish in time.
	ErrConnectionTimeout = errors.New("ssh connection timed out")

	// ErrHostKeyMismatch is returned when the server key is unknown or changed.
	ErrHostKeyMismatch = errors.New("ssh host key verification failed")
)

// Option is a functional option for Dial and FetchFile.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Conn is an authenticated SSH connection.
type Conn struct {
	client *ssh.Client
	addr   string
	logger *slog.Logger
}

// Dial connects and authenticates to the server described by config.
// Dialing and the handshake together are bounded by config.DialTimeout().
func Dial(ctx context.Context, config *Config, opts ...Option) (*Conn, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := buildOptions(opts)
	addr := config.Address()

	sshConfig, err := clientConfig(config, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("connecting to SSH server",
		slog.String("address", addr),
		slog.String("user", config.User),
	)

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout())
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	// ssh.NewClientConn takes no context, so the deadline bounds the handshake.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, handshakeError(addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	o.logger.Debug("SSH connection established", slog.String("address", addr))

	return &Conn{
		client: ssh.NewClient(sshConn, chans, reqs),
		addr:   addr,
		logger: o.logger,
	}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	err := c.client.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing ssh connection to %s: %w", c.addr, err)
	}
	return nil
}

func handshakeError(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	var netErr net.Error

	switch {
	case errors.As(err, &keyErr):
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("%w: %s is not in known_hosts: %w", ErrHostKeyMismatch, addr, err)
		}
		return fmt.Errorf("%w: key of %s changed: %w", ErrHostKeyMismatch, addr, err)
	case strings.Contains(err.Error(), "knownhosts: key"):
		return fmt.Errorf("%w: %s: %w", ErrHostKeyMismatch, addr, err)
	case isAuthError(err):
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: handshake with %s", ErrConnectionTimeout, addr)
	default:
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
}

// clientConfig translates config into the x/crypto/ssh form.
func clientConfig(config *Config, logger *slog.Logger) (*ssh.ClientConfig, error) {
	auth, err := authMethods(config)
	if err != nil {
		return nil, fmt.Errorf("building auth methods: %w", err)
	}

	hostKeys, err := hostKeyCallback(config, logger)
	if err != nil {
		return nil, fmt.Errorf("building host key callback: %w", err)
	}

	return &ssh.ClientConfig{
		User:            config.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         config.DialTimeout(),
	}, nil
}

// authMethods offers public keys first, then the password.
func authMethods(config *Config) ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer

	if config.KeyFile != "" {
		pemBytes, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file %s: %w", config.KeyFile, err)
		}
		signer, err := parseSigner(pemBytes, config.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", config.KeyFile, err)
		}
		signers = append(signers, signer)
	}

	if config.KeyData != "" {
		signer, err := parseSigner([]byte(config.KeyData), config.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("parsing key data: %w", err)
		}
		signers = append(signers, signer)
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if config.Password != "" {
		methods = append(methods, ssh.Password(config.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods configured")
	}
	return methods, nil
}

func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// hostKeyCallback verifies the server against a known_hosts file unless
// verification was explicitly disabled.
func hostKeyCallback(config *Config, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		logger.Warn("host key verification disabled", slog.String("host", config.Host))
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly requested
	}

	path := config.KnownHostsPath()
	if path == "" {
		return nil, errors.New("no known_hosts file available: set a known_hosts path or enable insecure mode")
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return callback, nil
}

// isAuthError reports whether a handshake failed because no credential was accepted.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
