package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/killerfoxi/whodis/pkg/httputil"
)

// DefaultJob is the Pushgateway job name when none is configured.
const DefaultJob = "whodis"

// PushConfig describes the Pushgateway target.
type PushConfig struct {
	// URL is the Pushgateway base URL. Pushing is disabled when empty.
	URL string

	// Job is the job label (default "whodis").
	Job string

	// Grouping adds grouping key labels, typically the updated hostname.
	Grouping map[string]string

	// Username and Password enable basic auth.
	Username string
	Password string

	// Timeout bounds the push request.
	Timeout time.Duration

	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool

	// UserAgent overrides the HTTP User-Agent.
	UserAgent string

	Logger *slog.Logger
}

// Enabled reports whether a Pushgateway is configured.
func (c PushConfig) Enabled() bool {
	return c.URL != ""
}

// Push replaces the metrics of this job and grouping on the Pushgateway.
func (m *Metrics) Push(ctx context.Context, cfg PushConfig) error {
	if !cfg.Enabled() {
		return errors.New("no pushgateway configured")
	}

	job := cfg.Job
	if job == "" {
		job = DefaultJob
	}

	client := httputil.New(
		httputil.WithTimeout(cfg.Timeout),
		httputil.WithInsecureTLS(cfg.TLSSkipVerify),
		httputil.WithUserAgent(cfg.UserAgent),
		httputil.WithLogger(cfg.Logger),
	)

	pusher := push.New(cfg.URL, job).
		Gatherer(m.registry).
		Client(client)

	for name, value := range cfg.Grouping {
		pusher = pusher.Grouping(name, value)
	}

	if cfg.Username != "" {
		pusher = pusher.BasicAuth(cfg.Username, cfg.Password)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", cfg.URL, err)
	}

	return nil
}
