package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/killerfoxi/whodis/pkg/address"
)

// Load builds the configuration from defaults, the config file at path (or
// WHODIS_CONFIG when path is empty) and WHODIS_* environment variables.
// Parse errors from every layer are collected into one *ValidationError.
// Load does not run Validate, so flags can still be applied by the caller.
func Load(path string) (*Config, error) {
	cfg := Default()
	var errs []string

	if path == "" {
		path = GetConfigFilePath()
	}

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, "config file: "+err.Error())
		} else {
			slog.Debug("loaded configuration from file", slog.String("path", path))
			errs = append(errs, fileCfg.apply(cfg)...)
		}
	}

	errs = append(errs, applyEnv(cfg)...)

	if len(errs) > 0 {
		return cfg, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

// applyEnv merges WHODIS_* overrides into cfg. Environment variables always
// take precedence over the config file.
func applyEnv(cfg *Config) []string {
	e := newEnv(EnvPrefix)

	e.str("ZONE", &cfg.Zone)
	e.str("HOSTNAME", &cfg.Hostname)
	e.str("SERVER", &cfg.Server)
	e.str("TLS_SERVER_NAME", &cfg.TLSServerName)
	e.boolean("TLS", &cfg.TLS)
	e.duration("TIMEOUT", &cfg.Timeout)

	if v := e.get("MODE"); v != "" {
		mode, err := address.ParseMode(v)
		if err != nil {
			e.fail("MODE", err)
		} else {
			cfg.Mode = mode
		}
	}

	if v := e.get("ADDRESSES"); v != "" {
		addrs, err := address.ParseAddrs(strings.Split(v, ","))
		if err != nil {
			e.fail("ADDRESSES", err)
		} else {
			cfg.Addresses = addrs
		}
	}

	// WHODIS_KEY_FILE doubles as the _FILE form of WHODIS_KEY: both yield the
	// PEM from that path, so it is kept as the file source.
	e.str("KEY", &cfg.Key.Data)
	e.str("KEY_FILE", &cfg.Key.File)
	e.str("KEY_URL", &cfg.Key.URL)

	if v := e.get("KEY_FLAGS"); v != "" {
		flags, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			e.fail("KEY_FLAGS", errors.New("invalid value (must be 0-65535)"))
		} else {
			cfg.Key.Flags = uint16(flags)
		}
	}

	if v := e.get("KEY_TTL"); v != "" {
		ttl, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail("KEY_TTL", errors.New("invalid value (must be a number of seconds)"))
		} else {
			cfg.Key.TTL = uint32(ttl)
		}
	}

	e.duration("KEY_SIGNATURE_VALIDITY", &cfg.Key.SignatureValidity)

	if err := cfg.Key.SSH.ApplyEnv(EnvPrefix + "KEY_SFTP_"); err != nil {
		e.fail("KEY_SFTP_", err)
	}

	e.str("PROBE_IPV4", &cfg.Probe.IPv4)
	e.str("PROBE_IPV6", &cfg.Probe.IPv6)

	e.lower("LOG_LEVEL", &cfg.LogLevel)
	e.lower("LOG_FORMAT", &cfg.LogFormat)

	e.str("METRICS_PUSHGATEWAY", &cfg.Metrics.Pushgateway)
	e.str("METRICS_JOB", &cfg.Metrics.Job)
	e.str("METRICS_USERNAME", &cfg.Metrics.Username)
	e.secret("METRICS_PASSWORD", &cfg.Metrics.Password)
	e.duration("METRICS_TIMEOUT", &cfg.Metrics.Timeout)
	e.boolean("METRICS_TLS_SKIP_VERIFY", &cfg.Metrics.TLSSkipVerify)

	return e.errs
}

// parseDuration accepts a Go duration ("5s", "1m") or a plain number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
