package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/killerfoxi/whodis/internal/config"
	"github.com/killerfoxi/whodis/internal/keysource"
	"github.com/killerfoxi/whodis/internal/metrics"
	"github.com/killerfoxi/whodis/internal/updater"
	"github.com/killerfoxi/whodis/pkg/address"
	"github.com/killerfoxi/whodis/pkg/dnsupdate"
)

// app carries what PersistentPreRunE prepared for the selected command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "whodis",
		Short: "Publish this host's addresses with a SIG(0) signed DNS update",
		Long: "whodis replaces the A and AAAA records of a hostname with the addresses of\n" +
			"this machine (or the ones given with --ip) by sending one RFC 2136 update,\n" +
			"authenticated with SIG(0), to the zone's authoritative server.",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd, a)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file, YAML or TOML (env WHODIS_CONFIG)")
	pf.StringP("zone", "z", "", "Zone to update, also the SIG(0) signer name (env WHODIS_ZONE)")
	pf.StringP("key-file", "k", "", "PEM encoded RSA private key (env WHODIS_KEY_FILE)")
	pf.String("log-level", "", "Log level: debug, info, warn, error (env WHODIS_LOG_LEVEL)")
	pf.String("log-format", "", "Log format: text, json (env WHODIS_LOG_FORMAT)")

	f := cmd.Flags()
	f.StringP("hostname", "n", "", "Hostname whose address records are replaced (env WHODIS_HOSTNAME)")
	f.StringP("server", "s", "", "Authoritative server, host or host:port (env WHODIS_SERVER)")
	f.StringP("mode", "m", "", "Address families: v4, v6, both (env WHODIS_MODE)")
	f.StringSlice("ip", nil, "Publish this address instead of detecting one (repeatable)")
	f.Duration("timeout", 0, "Connection timeout (env WHODIS_TIMEOUT)")
	f.Bool("tls", false, "Send the update over DNS over TLS (env WHODIS_TLS)")
	f.String("tls-server-name", "", "Name to verify the server certificate against (env WHODIS_TLS_SERVER_NAME)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		path, _ := c.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := applyFlags(c, cfg); err != nil {
			return err
		}

		a.cfg = cfg
		a.logger = setupLogger(c.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(a.logger)
		return nil
	}

	cmd.AddCommand(newCmdKey(a))
	cmd.AddCommand(newCmdVersion())
	return cmd
}

// applyFlags copies the flags set on the command line onto cfg. Flags left
// at their defaults do not override file or environment settings.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	for name, dst := range map[string]*string{
		"zone":            &cfg.Zone,
		"hostname":        &cfg.Hostname,
		"server":          &cfg.Server,
		"tls-server-name": &cfg.TLSServerName,
		"log-level":       &cfg.LogLevel,
		"log-format":      &cfg.LogFormat,
	} {
		if changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	if changed("mode") {
		v, _ := flags.GetString("mode")
		mode, err := address.ParseMode(v)
		if err != nil {
			return fmt.Errorf("--mode: %w", err)
		}
		cfg.Mode = mode
	}

	if changed("ip") {
		values, _ := flags.GetStringSlice("ip")
		addrs, err := address.ParseAddrs(values)
		if err != nil {
			return fmt.Errorf("--ip: %w", err)
		}
		cfg.Addresses = addrs
	}

	if changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}

	if changed("tls") {
		cfg.TLS, _ = flags.GetBool("tls")
	}

	// The key file flag replaces any key source from the file or environment.
	if changed("key-file") {
		cfg.Key.File, _ = flags.GetString("key-file")
		cfg.Key.Data = ""
		cfg.Key.URL = ""
	}

	return nil
}

func runUpdate(cmd *cobra.Command, a *app) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := a.logger

	logger.Info("whodis starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
	)

	m := metrics.New()
	m.SetBuildInfo(Version, runtime.Version())
	defer pushMetrics(ctx, a, m)

	identity, err := loadIdentity(ctx, a)
	if err != nil {
		m.ObserveUpdate(updater.OutcomeNotSent, 0, time.Time{})
		m.ObservePhaseFailure(string(updater.PhaseSigning))
		return err
	}

	u, err := updater.New(cfg.Transport(), newSigner(cfg, identity),
		updater.WithLogger(logger),
		updater.WithMetrics(m),
		updater.WithDetector(cfg.Detector(address.WithDetectorLogger(logger))),
	)
	if err != nil {
		return err
	}

	report, err := u.Run(ctx, updater.Request{
		Hostname:  cfg.Hostname,
		Mode:      cfg.Mode,
		Addresses: cfg.Addresses,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
	return nil
}

// loadIdentity fetches the private key and derives the signing identity.
// Failures are reported in the signing phase, before any connection is made.
func loadIdentity(ctx context.Context, a *app) (*dnsupdate.SigningIdentity, error) {
	cfg := a.cfg

	pemBytes, err := keysource.Load(ctx, cfg.KeySpec(), keysource.WithLogger(a.logger))
	if err != nil {
		return nil, &updater.PhaseError{Phase: updater.PhaseSigning, Err: err}
	}

	identity, err := dnsupdate.LoadSigningIdentity(cfg.Zone, pemBytes,
		dnsupdate.WithKeyFlags(cfg.Key.Flags),
		dnsupdate.WithKeyTTL(cfg.Key.TTL),
	)
	if err != nil {
		return nil, &updater.PhaseError{Phase: updater.PhaseSigning, Err: err}
	}

	a.logger.Debug("signing identity loaded",
		slog.String("source", cfg.KeySpec().String()),
		slog.Int("key_tag", int(identity.KeyTag())),
	)

	return identity, nil
}

func newSigner(cfg *config.Config, identity *dnsupdate.SigningIdentity) *dnsupdate.Sig0Signer {
	return dnsupdate.NewSig0Signer(identity, dnsupdate.WithSignatureValidity(cfg.Key.SignatureValidity))
}

// pushMetrics sends the run's metrics to the Pushgateway when one is
// configured. A failed push is logged but does not change the exit status.
func pushMetrics(ctx context.Context, a *app, m *metrics.Metrics) {
	cfg := a.cfg
	pc := metrics.PushConfig{
		URL:           cfg.Metrics.Pushgateway,
		Job:           cfg.Metrics.Job,
		Grouping:      map[string]string{"hostname": cfg.Hostname},
		Username:      cfg.Metrics.Username,
		Password:      cfg.Metrics.Password,
		Timeout:       cfg.Metrics.Timeout,
		TLSSkipVerify: cfg.Metrics.TLSSkipVerify,
		UserAgent:     "whodis/" + Version,
		Logger:        a.logger,
	}
	if !pc.Enabled() {
		return
	}

	if err := m.Push(context.WithoutCancel(ctx), pc); err != nil {
		a.logger.Warn("pushing metrics failed", slog.String("error", err.Error()))
		return
	}

	a.logger.Debug("metrics pushed", slog.String("pushgateway", pc.URL))
}
