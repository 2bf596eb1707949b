// Package sshutiltest runs an in-process SSH server exposing an SFTP
// subsystem rooted in the real filesystem, for tests of remote key fetching.
package sshutiltest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Server accepts password logins for a single user.
type Server struct {
	// Addr is the host:port the server listens on.
	Addr string

	// User and Password are the accepted credentials.
	User     string
	Password string

	hostKey ssh.Signer
	ln      net.Listener
	wg      sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 that is stopped when the test ends.
func NewServer(tb testing.TB, user, password string) *Server {
	tb.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("generating host key: %v", err)
	}

	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		tb.Fatalf("creating host key signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listening: %v", err)
	}

	s := &Server{
		Addr:     ln.Addr().String(),
		User:     user,
		Password: password,
		hostKey:  hostKey,
		ln:       ln,
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, errors.New("permission denied")
		},
	}
	config.AddHostKey(hostKey)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn, config)
			}()
		}
	}()

	tb.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})

	return s
}

// Host and Port return the listening address split for sshutil.Config.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// WriteKnownHosts writes a known_hosts file trusting this server and returns its path.
func (s *Server) WriteKnownHosts(tb testing.TB) string {
	tb.Helper()

	line := knownhosts.Line([]string{knownhosts.Normalize(s.Addr)}, s.hostKey.PublicKey())
	path := filepath.Join(tb.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		tb.Fatalf("writing known_hosts: %v", err)
	}
	return path
}

func (s *Server) serve(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				_ = req.Reply(isSFTPSubsystem(req), nil)
			}
		}(requests)

		server, err := sftp.NewServer(channel, sftp.ReadOnly())
		if err != nil {
			_ = channel.Close()
			continue
		}

		go func() {
			_ = server.Serve()
			_ = server.Close()
		}()
	}
}

func isSFTPSubsystem(req *ssh.Request) bool {
	if req.Type != "subsystem" || len(req.Payload) < 4 {
		return false
	}
	n := binary.BigEndian.Uint32(req.Payload)
	return int(n) == len(req.Payload)-4 && string(req.Payload[4:]) == "sftp"
}
