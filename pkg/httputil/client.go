// Package httputil provides the HTTP client used for outbound calls such as
// pushing metrics to a Prometheus Pushgateway.
package httputil

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole request including the response body.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is sent when the caller does not set one.
	DefaultUserAgent = "whodis"
)

// Option configures the client returned by New.
type Option func(*settings)

type settings struct {
	timeout   time.Duration
	userAgent string
	insecure  bool
	logger    *slog.Logger
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithInsecureTLS disables certificate verification when skip is true.
func WithInsecureTLS(skip bool) Option {
	return func(s *settings) { s.insecure = skip }
}

// WithLogger logs every request at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New returns a client that stamps the User-Agent on each request.
func New(opts ...Option) *http.Client {
	s := settings{timeout: DefaultTimeout, userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(&s)
	}

	next := http.DefaultTransport
	if s.insecure {
		// Clone keeps proxy settings and connection limits from the default.
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly requested
		next = t
	}

	return &http.Client{
		Timeout:   s.timeout,
		Transport: &transport{next: next, userAgent: s.userAgent, logger: s.logger},
	}
}

type transport struct {
	next      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	if t.logger != nil {
		attrs := []any{
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			t.logger.Debug("http request failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			t.logger.Debug("http request", append(attrs, slog.Int("status", resp.StatusCode))...)
		}
	}

	return resp, err
}
