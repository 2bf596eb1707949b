// Package config handles loading and validation of whodis configuration.
//
// Settings are layered: built-in defaults, then an optional YAML or TOML
// file, then WHODIS_* environment variables. Command line flags are applied
// on top by the caller before Validate is run.
package config

import (
	"net/netip"
	"time"

	"github.com/killerfoxi/whodis/internal/keysource"
	"github.com/killerfoxi/whodis/pkg/address"
	"github.com/killerfoxi/whodis/pkg/dnsupdate"
	"github.com/killerfoxi/whodis/pkg/sshutil"
)

// Configuration defaults.
const (
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultMode       = address.ModeBoth
	DefaultTimeout    = dnsupdate.DefaultTimeout
	DefaultKeyFlags   = dnsupdate.KeyFlagsZone
	DefaultKeyTTL     = dnsupdate.DefaultKeyTTL
	DefaultValidity   = dnsupdate.DefaultSignatureValidity
	DefaultMetricsJob = "whodis"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "WHODIS_"
)

// Config holds the settings for one update run.
type Config struct {
	// Zone is the zone the update is addressed to.
	Zone string

	// Hostname is the fully-qualified name whose address records are replaced.
	Hostname string

	// Server is the authoritative server, host or host:port.
	Server string

	// Mode selects the address families to publish.
	Mode address.Mode

	// Addresses, when set, are published instead of detected ones.
	Addresses []netip.Addr

	// Timeout bounds connection establishment.
	Timeout time.Duration

	// TLS sends the update over DNS over TLS.
	TLS           bool
	TLSServerName string

	Key KeyConfig

	Probe ProbeConfig

	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	Metrics MetricsConfig
}

// KeyConfig describes where the SIG(0) private key comes from.
type KeyConfig struct {
	File string
	Data string
	URL  string

	// Flags is the KEY RR flags field (256 zone key, 512 host key).
	Flags uint16

	// TTL of the KEY record printed by "key pubkey".
	TTL uint32

	// SignatureValidity is how long a SIG(0) stays valid after signing.
	SignatureValidity time.Duration

	// SSH holds credentials for URL.
	SSH sshutil.Config
}

// ProbeConfig overrides the remote host:port targets whose route decides
// the detected source address. Empty values keep the built-in targets.
type ProbeConfig struct {
	IPv4 string
	IPv6 string
}

// MetricsConfig holds the optional Pushgateway settings.
type MetricsConfig struct {
	Pushgateway   string
	Job           string
	Username      string
	Password      string
	Timeout       time.Duration
	TLSSkipVerify bool
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Mode:      DefaultMode,
		Timeout:   DefaultTimeout,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Key: KeyConfig{
			Flags:             DefaultKeyFlags,
			TTL:               DefaultKeyTTL,
			SignatureValidity: DefaultValidity,
		},
		Metrics: MetricsConfig{
			Job: DefaultMetricsJob,
		},
	}
}

// Transport returns the dnsupdate transport settings.
func (c *Config) Transport() *dnsupdate.Config {
	return &dnsupdate.Config{
		Server:        c.Server,
		Zone:          c.Zone,
		Timeout:       c.Timeout,
		UseTLS:        c.TLS,
		TLSServerName: c.TLSServerName,
	}
}

// Detector returns the address detector configured with the probe targets.
func (c *Config) Detector(opts ...address.DetectorOption) *address.SystemDetector {
	opts = append(opts, address.WithProbeAddrs(c.Probe.IPv4, c.Probe.IPv6))
	return address.NewSystemDetector(opts...)
}

// KeySpec returns the key location for keysource.Load.
func (c *Config) KeySpec() keysource.Spec {
	return keysource.Spec{
		Data: c.Key.Data,
		File: c.Key.File,
		URL:  c.Key.URL,
		SSH:  c.Key.SSH,
	}
}
