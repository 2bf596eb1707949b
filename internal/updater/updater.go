// Package updater sequences one dynamic DNS update: it resolves the address
// set, builds the UPDATE message, signs and sends it, and interprets the
// answer. Every run is single-shot and nothing is retried.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/killerfoxi/whodis/internal/metrics"
	"github.com/killerfoxi/whodis/pkg/address"
	"github.com/killerfoxi/whodis/pkg/dnsupdate"
)

// Request describes what to publish.
type Request struct {
	// Hostname is the name whose A/AAAA records are replaced.
	Hostname string

	// Mode selects the address families.
	Mode address.Mode

	// Addresses overrides detection when non-empty.
	Addresses []netip.Addr
}

// Updater runs the update workflow against one server and zone.
type Updater struct {
	config   *dnsupdate.Config
	signer   dnsupdate.Signer
	selector *address.Selector
	detector address.Detector
	dialer   *net.Dialer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option is a functional option for configuring the Updater.
type Option func(*Updater)

// WithLogger sets a custom logger for the updater and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics records every run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) {
		u.metrics = m
	}
}

// WithDetector replaces the system address detector.
func WithDetector(d address.Detector) Option {
	return func(u *Updater) {
		u.detector = d
	}
}

// WithDialer sets the dialer used to reach the server.
func WithDialer(d *net.Dialer) Option {
	return func(u *Updater) {
		u.dialer = d
	}
}

// New creates an Updater for the given transport settings and signer.
func New(config *dnsupdate.Config, signer dnsupdate.Signer, opts ...Option) (*Updater, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u := &Updater{
		config: config,
		signer: signer,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(u)
	}

	u.selector = address.NewSelector(u.detector, address.WithLogger(u.logger))

	return u, nil
}

// Run performs the workflow once. The returned report is never nil; on
// failure the error is a *PhaseError naming the phase it occurred in.
func (u *Updater) Run(ctx context.Context, req Request) (*Report, error) {
	report := newReport()
	report.Zone = u.config.Zone
	report.Hostname = req.Hostname

	logger := u.logger.With(
		slog.String("zone", u.config.Zone),
		slog.String("hostname", req.Hostname),
	)

	logger.Info("starting update",
		slog.String("server", u.config.GetServer()),
		slog.String("mode", req.Mode.String()),
	)

	err := u.run(ctx, req, report, logger)
	if err != nil {
		logger.Warn("update failed",
			slog.String("phase", string(report.Phase)),
			slog.String("error", err.Error()),
			slog.Duration("duration", report.Duration()),
		)
	} else {
		logger.Info("update accepted",
			slog.Int("id", int(report.ID)),
			slog.Int("addresses", len(report.Addresses)),
			slog.Duration("rtt", report.RTT),
			slog.Duration("duration", report.Duration()),
		)
	}

	u.record(report)

	return report, err
}

func (u *Updater) run(ctx context.Context, req Request, report *Report, logger *slog.Logger) error {
	addrs, err := u.selector.Select(ctx, req.Mode, req.Addresses)
	if err != nil {
		return fail(report, PhaseAddressResolution, err)
	}
	report.Addresses = addrs
	report.State = StateAddressesResolved

	msg, err := dnsupdate.NewUpdate(u.config.Zone, req.Hostname, addrs)
	if err != nil {
		return fail(report, PhaseMessageConstruction, err)
	}
	report.ID = msg.Id
	report.State = StateMessageBuilt

	if logger.Enabled(ctx, slog.LevelDebug) {
		for _, inst := range dnsupdate.Instructions(msg) {
			logger.Debug("update instruction",
				slog.Int("id", int(msg.Id)),
				slog.String("op", inst.Op.String()),
				slog.String("name", inst.Name),
				slog.String("type", dns.TypeToString[inst.Type]),
				slog.Any("addr", inst.Addr),
			)
		}
	}

	signer := &trackingSigner{signer: u.signer, report: report}
	clientOpts := []dnsupdate.ClientOption{dnsupdate.WithLogger(logger)}
	if u.dialer != nil {
		clientOpts = append(clientOpts, dnsupdate.WithDialer(u.dialer))
	}

	client, err := dnsupdate.NewClient(u.config, signer, clientOpts...)
	if err != nil {
		return fail(report, PhaseTransport, err)
	}

	session, err := client.Connect(ctx)
	if err != nil {
		report.Outcome = dnsupdate.OutcomeTransportFailure
		return fail(report, PhaseTransport, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Debug("closing session", slog.String("error", err.Error()))
		}
	}()

	result, err := session.Send(ctx, msg)
	if signer.err != nil {
		return fail(report, PhaseSigning, signer.err)
	}

	report.Sent = true
	report.State = StateSent
	if result != nil {
		report.Outcome = result.Outcome
		report.Rcode = result.Rcode
		report.RTT = result.RTT
	}

	if err != nil {
		if dnsupdate.IsAuthError(err) {
			logger.Warn("server did not accept the signature; check that the KEY record for the zone matches the signing key",
				slog.String("rcode", dnsupdate.RcodeName(report.Rcode)),
			)
		}
		return fail(report, phaseFor(report.Outcome), err)
	}

	report.complete(StateSucceeded)
	return nil
}

func (u *Updater) record(report *Report) {
	if u.metrics == nil {
		return
	}

	var succeededAt time.Time
	if report.Succeeded() {
		succeededAt = report.EndTime
	}
	u.metrics.ObserveUpdate(report.OutcomeLabel(), report.Duration(), succeededAt)

	if report.State == StateFailed {
		u.metrics.ObservePhaseFailure(string(report.Phase))
	}

	if len(report.Addresses) > 0 {
		u.metrics.SetAddresses(report.Families())
	}
}

func fail(report *Report, phase Phase, err error) error {
	report.Phase = phase
	report.complete(StateFailed)
	return &PhaseError{Phase: phase, Err: err}
}

func phaseFor(outcome dnsupdate.Outcome) Phase {
	switch outcome {
	case dnsupdate.OutcomeServerRejected:
		return PhaseServer
	case dnsupdate.OutcomeProtocolFailure:
		return PhaseProtocol
	default:
		return PhaseTransport
	}
}

// trackingSigner advances the report to StateSigned once the session has
// signed the message, and remembers a signing failure so it is not mistaken
// for a transport error.
type trackingSigner struct {
	signer dnsupdate.Signer
	report *Report
	err    error
}

func (s *trackingSigner) Sign(msg *dns.Msg) ([]byte, error) {
	wire, err := s.signer.Sign(msg)
	if err != nil {
		s.err = err
		return nil, err
	}
	s.report.State = StateSigned
	return wire, nil
}
