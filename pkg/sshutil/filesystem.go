package sshutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/sftp"
)

// MaxReadSize caps how much ReadFile accepts from a remote file.
const MaxReadSize = 1 << 20

// ErrFileTooLarge is returned when a remote file exceeds MaxReadSize.
var ErrFileTooLarge = errors.New("remote file too large")

// ReadFile reads one regular file over a fresh SFTP session. Cancelling ctx
// closes the connection, which aborts a transfer in progress.
func (c *Conn) ReadFile(ctx context.Context, path string) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.client.Close() })
	defer stop()

	session, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("starting sftp session: %w", err)
	}
	defer func() { _ = session.Close() }()

	file, err := session.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > MaxReadSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, path, MaxReadSize)
	}
	if info.Mode().Perm()&0o077 != 0 {
		c.logger.Warn("remote file is readable by other users",
			slog.String("path", path),
			slog.String("mode", info.Mode().Perm().String()),
		)
	}

	// The size may change between Stat and the read.
	data, err := io.ReadAll(io.LimitReader(file, MaxReadSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reading file %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	if len(data) > MaxReadSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, path, MaxReadSize)
	}

	c.logger.Debug("remote file read",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)

	return data, nil
}

// FetchFile dials config, reads path and disconnects.
func FetchFile(ctx context.Context, config *Config, path string, opts ...Option) ([]byte, error) {
	conn, err := Dial(ctx, config, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	return conn.ReadFile(ctx, path)
}
