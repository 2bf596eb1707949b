// Package metrics provides Prometheus metrics for whodis.
//
// whodis is a one-shot process, so metrics are collected into a private
// registry and pushed to a Pushgateway at exit instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metric names use the whodis_ prefix.
const (
	Namespace = "whodis"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	// BuildInfo is a constant 1 labelled with version information.
	BuildInfo *prometheus.GaugeVec

	// UpdatesTotal counts update transactions by outcome.
	UpdatesTotal *prometheus.CounterVec

	// UpdateDuration observes the wall time of a complete run.
	UpdateDuration prometheus.Histogram

	// PhaseFailuresTotal counts failed runs by the phase that failed.
	PhaseFailuresTotal *prometheus.CounterVec

	// LastSuccess is the unix time of the last successful update.
	LastSuccess prometheus.Gauge

	// AddressesPublished is the number of addresses sent, by family.
	AddressesPublished *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go
// runtime collector, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "build_info",
				Help:      "Build information, constant 1.",
			},
			[]string{"version", "go_version"},
		),
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "updates_total",
				Help:      "Dynamic update transactions by outcome.",
			},
			[]string{"outcome"},
		),
		UpdateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "update_duration_seconds",
				Help:      "Duration of an update run from address selection to response.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		PhaseFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "phase_failures_total",
				Help:      "Failed update runs by failing phase.",
			},
			[]string{"phase"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful update.",
			},
		),
		AddressesPublished: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "addresses_published",
				Help:      "Addresses carried by the last update, by family.",
			},
			[]string{"family"},
		),
	}

	m.registry.MustRegister(
		m.BuildInfo,
		m.UpdatesTotal,
		m.UpdateDuration,
		m.PhaseFailuresTotal,
		m.LastSuccess,
		m.AddressesPublished,
		collectors.NewGoCollector(),
	)

	return m
}

// SetBuildInfo records the build version.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// ObserveUpdate records the outcome and duration of one run. A zero finished
// time leaves the last-success gauge untouched.
func (m *Metrics) ObserveUpdate(outcome string, duration time.Duration, succeededAt time.Time) {
	m.UpdatesTotal.WithLabelValues(outcome).Inc()
	m.UpdateDuration.Observe(duration.Seconds())
	if !succeededAt.IsZero() {
		m.LastSuccess.Set(float64(succeededAt.Unix()))
	}
}

// ObservePhaseFailure records a run that failed in phase.
func (m *Metrics) ObservePhaseFailure(phase string) {
	m.PhaseFailuresTotal.WithLabelValues(phase).Inc()
}

// SetAddresses records how many addresses of each family were published.
func (m *Metrics) SetAddresses(ipv4, ipv6 int) {
	m.AddressesPublished.WithLabelValues("ipv4").Set(float64(ipv4))
	m.AddressesPublished.WithLabelValues("ipv6").Set(float64(ipv6))
}
