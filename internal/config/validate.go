package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate performs cross-field validation on the complete configuration.
// Returns a *ValidationError listing every problem, or nil.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, validateName("zone", c.Zone)...)
	errs = append(errs, validateName("hostname", c.Hostname)...)

	if c.Server == "" {
		errs = append(errs, "server is required")
	}

	if !c.Mode.Valid() {
		errs = append(errs, fmt.Sprintf("mode: invalid value %d (must be v4, v6, or both)", c.Mode))
	}

	if c.Timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	errs = append(errs, c.validateKey()...)
	errs = append(errs, c.validateProbe()...)

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log format: invalid value %q (must be json or text)", c.LogFormat))
	}

	errs = append(errs, c.validateMetrics()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateSigning checks only what is needed to load the signing identity:
// the zone and the key source. It is used by commands that never contact
// the server.
func (c *Config) ValidateSigning() error {
	var errs []string
	errs = append(errs, validateName("zone", c.Zone)...)
	errs = append(errs, c.validateKey()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateName(field, name string) []string {
	if name == "" {
		return []string{field + " is required"}
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return []string{fmt.Sprintf("%s: %q is not a valid domain name", field, name)}
	}
	return nil
}

func (c *Config) validateKey() []string {
	var errs []string
	if c.Key.SignatureValidity <= 0 {
		errs = append(errs, "key signature validity must be positive")
	}

	if _, err := c.KeySpec().Kind(); err != nil {
		return append(errs, "key: "+err.Error()+" (set one of key file, inline key, or key url)")
	}

	if c.Key.URL == "" {
		return errs
	}

	sshCfg, _, err := c.KeySpec().Remote()
	if err != nil {
		return append(errs, "key url: "+err.Error())
	}
	if err := sshCfg.Validate(); err != nil {
		return append(errs, "key url: "+err.Error())
	}
	return errs
}

func (c *Config) validateProbe() []string {
	var errs []string
	for _, p := range []struct{ family, target string }{
		{"ipv4", c.Probe.IPv4},
		{"ipv6", c.Probe.IPv6},
	} {
		if p.target == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(p.target); err != nil {
			errs = append(errs, fmt.Sprintf("probe %s: %q must be host:port", p.family, p.target))
		}
	}
	return errs
}

func (c *Config) validateMetrics() []string {
	var errs []string

	if c.Metrics.Pushgateway != "" {
		u, err := url.Parse(c.Metrics.Pushgateway)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("metrics pushgateway: %q must be an http(s) URL", c.Metrics.Pushgateway))
		}
	}

	if c.Metrics.Timeout < 0 {
		errs = append(errs, "metrics timeout must be non-negative")
	}

	return errs
}
