package dnsupdate

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Outcome classifies how an update transaction ended.
type Outcome int

// Update outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeServerRejected
	OutcomeTransportFailure
	OutcomeProtocolFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeServerRejected:
		return "server_rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeProtocolFailure:
		return "protocol_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes the answer to a single update.
type Result struct {
	Outcome Outcome

	// Rcode is the response code returned by the server, if any.
	Rcode int

	// ID is the message ID of the update.
	ID uint16

	// Response is the decoded response, nil when none was received.
	Response *dns.Msg

	// RTT is the time between writing the update and receiving the response.
	RTT time.Duration
}

// Client delivers signed RFC 2136 updates over TCP or DNS over TLS.
type Client struct {
	config *Config
	signer Signer
	logger *slog.Logger
	dialer *net.Dialer
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the DNS update client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer sets the dialer used to reach the server, e.g. to bind a local address.
func WithDialer(d *net.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewClient creates a new update client with the given configuration and signer.
func NewClient(config *Config, signer Signer, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	if signer == nil {
		return nil, errors.New("signer is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		config: config,
		signer: signer,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("update client initialized",
		slog.String("server", config.GetServer()),
		slog.String("zone", config.Zone),
		slog.Bool("tls", config.UseTLS),
		slog.Duration("timeout", config.GetTimeout()),
	)

	return c, nil
}

// Connect opens a stream connection to the server. Connection establishment
// is bounded by the configured timeout; there is no reconnect.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	timeout := c.config.GetTimeout()
	server := c.config.GetServer()

	dnsClient := &dns.Client{
		Net:         c.config.Network(),
		DialTimeout: timeout,
		Dialer:      c.dialer,
	}

	if c.config.UseTLS {
		dnsClient.TLSConfig = &tls.Config{
			ServerName: c.config.GetTLSServerName(),
			MinVersion: tls.VersionTLS12,
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug("connecting to DNS server",
		slog.String("server", server),
		slog.String("network", dnsClient.Net),
	)

	conn, err := dnsClient.DialContext(dialCtx, server)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, server, err)
	}

	s := &Session{
		conn:    conn,
		signer:  c.signer,
		logger:  c.logger.With(slog.String("server", server)),
		replies: make(chan reply, 1),
		done:    make(chan struct{}),
	}

	go s.readLoop()

	return s, nil
}

type reply struct {
	msg *dns.Msg
	err error
	at  time.Time
}

// Session is an open connection to the server with a background reader.
// It carries at most one outstanding update at a time.
type Session struct {
	conn   *dns.Conn
	signer Signer
	logger *slog.Logger

	mu        sync.Mutex
	pending   bool
	pendingID uint16
	closing   bool
	replies   chan reply

	done    chan struct{}
	readErr error

	closeOnce sync.Once
}

// readLoop reads frames until the connection ends, handing the first response
// matching the outstanding ID to Send.
func (s *Session) readLoop() {
	defer close(s.done)

	for {
		frame, err := s.conn.ReadMsgHeader(nil)
		if err != nil {
			if errors.Is(err, dns.ErrShortRead) {
				s.deliverFrameError(nil, fmt.Errorf("%w: short response frame", ErrProtocolFailure))
				continue
			}
			s.readErr = err
			return
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(frame); err != nil {
			s.deliverFrameError(frame, fmt.Errorf("%w: decoding response: %w", ErrProtocolFailure, err))
			continue
		}

		s.deliver(msg.Id, reply{msg: msg, at: time.Now()})
	}
}

func (s *Session) deliverFrameError(frame []byte, err error) {
	s.mu.Lock()
	id := s.pendingID
	s.mu.Unlock()

	if len(frame) >= 2 {
		id = binary.BigEndian.Uint16(frame)
	}
	s.deliver(id, reply{err: err, at: time.Now()})
}

func (s *Session) deliver(id uint16, r reply) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending || id != s.pendingID {
		s.logger.Debug("dropping unsolicited response",
			slog.Int("id", int(id)),
			slog.Bool("pending", s.pending),
		)
		return
	}

	s.pending = false
	select {
	case s.replies <- r:
	default:
	}
}

// Send signs msg, writes it and waits for the first response carrying the
// same ID. The wait is bounded only by ctx.
func (s *Session) Send(ctx context.Context, msg *dns.Msg) (*Result, error) {
	if msg == nil {
		return nil, errors.New("message is required")
	}

	wire, err := s.signer.Sign(msg)
	if err != nil {
		return nil, err
	}

	result := &Result{ID: msg.Id}

	if err := s.register(msg.Id); err != nil {
		result.Outcome = OutcomeTransportFailure
		return result, err
	}
	defer s.unregister()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}

	s.logger.Debug("sending update",
		slog.Int("id", int(msg.Id)),
		slog.Int("bytes", len(wire)),
		slog.Int("updates", len(msg.Ns)),
	)

	start := time.Now()
	if _, err := s.conn.Write(wire); err != nil {
		result.Outcome = OutcomeTransportFailure
		return result, fmt.Errorf("%w: writing update: %w", ErrTransportFailure, err)
	}

	select {
	case r := <-s.replies:
		return s.interpret(result, r, start)

	case <-s.done:
		select {
		case r := <-s.replies:
			return s.interpret(result, r, start)
		default:
		}
		return s.readFailure(result)

	case <-ctx.Done():
		result.Outcome = OutcomeTransportFailure
		return result, fmt.Errorf("%w: awaiting response: %w", ErrTransportFailure, ctx.Err())
	}
}

func (s *Session) register(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return fmt.Errorf("%w: session closed", ErrTransportFailure)
	}
	if s.pending {
		return fmt.Errorf("%w: another update is outstanding", ErrTransportFailure)
	}

	select {
	case <-s.replies:
	default:
	}

	s.pending = true
	s.pendingID = id
	return nil
}

func (s *Session) unregister() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Session) interpret(result *Result, r reply, start time.Time) (*Result, error) {
	result.RTT = r.at.Sub(start)

	if r.err != nil {
		result.Outcome = OutcomeProtocolFailure
		return result, r.err
	}

	result.Response = r.msg
	result.Rcode = r.msg.Rcode

	if !r.msg.Response {
		result.Outcome = OutcomeProtocolFailure
		return result, fmt.Errorf("%w: reply %d is not a response", ErrProtocolFailure, r.msg.Id)
	}

	s.logger.Debug("received response",
		slog.Int("id", int(r.msg.Id)),
		slog.String("rcode", RcodeName(r.msg.Rcode)),
		slog.Duration("rtt", result.RTT),
	)

	if err := RcodeToError(r.msg.Rcode); err != nil {
		result.Outcome = OutcomeServerRejected
		return result, err
	}

	result.Outcome = OutcomeSuccess
	return result, nil
}

func (s *Session) readFailure(result *Result) (*Result, error) {
	err := s.readErr

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	switch {
	case errors.Is(err, io.EOF):
		result.Outcome = OutcomeProtocolFailure
		return result, ErrNoAnswer
	case closing:
		result.Outcome = OutcomeTransportFailure
		return result, fmt.Errorf("%w: session closed", ErrTransportFailure)
	default:
		result.Outcome = OutcomeTransportFailure
		return result, fmt.Errorf("%w: reading response: %w", ErrTransportFailure, err)
	}
}

// Close closes the connection and waits for the reader to exit.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		err = s.conn.Close()
		<-s.done

		if err != nil && !errors.Is(err, net.ErrClosed) {
			err = fmt.Errorf("closing connection: %w", err)
		} else {
			err = nil
		}
	})
	return err
}
