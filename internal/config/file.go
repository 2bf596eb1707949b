package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/killerfoxi/whodis/pkg/address"
)

// FileConfig represents the configuration file structure.
// The same layout is accepted as YAML or TOML.
type FileConfig struct {
	Zone          string   `yaml:"zone,omitempty" toml:"zone"`
	Hostname      string   `yaml:"hostname,omitempty" toml:"hostname"`
	Server        string   `yaml:"server,omitempty" toml:"server"`
	Mode          string   `yaml:"mode,omitempty" toml:"mode"`                       // v4, v6, both
	Addresses     []string `yaml:"addresses,omitempty" toml:"addresses"`             // explicit addresses
	Timeout       string   `yaml:"timeout,omitempty" toml:"timeout"`                 // Go duration or seconds
	TLS           *bool    `yaml:"tls,omitempty" toml:"tls"`                         // Pointer to distinguish unset from false
	TLSServerName string   `yaml:"tls_server_name,omitempty" toml:"tls_server_name"` // certificate name override

	Key     *FileKeyConfig     `yaml:"key,omitempty" toml:"key"`
	Probe   *FileProbeConfig   `yaml:"probe,omitempty" toml:"probe"`
	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging"`
	Metrics *FileMetricsConfig `yaml:"metrics,omitempty" toml:"metrics"`
}

// FileKeyConfig holds the signing key location.
type FileKeyConfig struct {
	File  string          `yaml:"file,omitempty" toml:"file"`
	Data  string          `yaml:"data,omitempty" toml:"data"`
	URL   string          `yaml:"url,omitempty" toml:"url"` // sftp://user@host/path
	Flags int             `yaml:"flags,omitempty" toml:"flags"`
	TTL   int             `yaml:"ttl,omitempty" toml:"ttl"`
	SFTP  *FileSFTPConfig `yaml:"sftp,omitempty" toml:"sftp"`

	SignatureValidity string `yaml:"signature_validity,omitempty" toml:"signature_validity"` // Go duration or seconds
}

// FileProbeConfig holds the route probe targets used for address detection.
type FileProbeConfig struct {
	IPv4 string `yaml:"ipv4,omitempty" toml:"ipv4"` // host:port
	IPv6 string `yaml:"ipv6,omitempty" toml:"ipv6"`
}

// FileSFTPConfig holds credentials for fetching the key over SFTP.
type FileSFTPConfig struct {
	User                  string `yaml:"user,omitempty" toml:"user"`
	Password              string `yaml:"password,omitempty" toml:"password"`
	KeyFile               string `yaml:"key_file,omitempty" toml:"key_file"`
	KeyData               string `yaml:"key_data,omitempty" toml:"key_data"`
	KeyPassphrase         string `yaml:"key_passphrase,omitempty" toml:"key_passphrase"`
	KnownHosts            string `yaml:"known_hosts,omitempty" toml:"known_hosts"`
	InsecureIgnoreHostKey *bool  `yaml:"insecure_ignore_host_key,omitempty" toml:"insecure_ignore_host_key"`
	Timeout               string `yaml:"timeout,omitempty" toml:"timeout"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format"` // json, text
}

// FileMetricsConfig holds Pushgateway settings.
type FileMetricsConfig struct {
	Pushgateway   string `yaml:"pushgateway,omitempty" toml:"pushgateway"`
	Job           string `yaml:"job,omitempty" toml:"job"`
	Username      string `yaml:"username,omitempty" toml:"username"`
	Password      string `yaml:"password,omitempty" toml:"password"`
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout"`
	TLSSkipVerify *bool  `yaml:"tls_skip_verify,omitempty" toml:"tls_skip_verify"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// interpolateEnvVars interpolates environment variables in all string
// fields of the config structure.
func (c *FileConfig) interpolateEnvVars() {
	for _, s := range []*string{&c.Zone, &c.Hostname, &c.Server, &c.Mode, &c.Timeout, &c.TLSServerName} {
		*s = InterpolateEnvVars(*s)
	}
	for i := range c.Addresses {
		c.Addresses[i] = InterpolateEnvVars(c.Addresses[i])
	}

	if c.Key != nil {
		c.Key.File = InterpolateEnvVars(c.Key.File)
		c.Key.Data = InterpolateEnvVars(c.Key.Data)
		c.Key.URL = InterpolateEnvVars(c.Key.URL)
		c.Key.SignatureValidity = InterpolateEnvVars(c.Key.SignatureValidity)
		if s := c.Key.SFTP; s != nil {
			for _, f := range []*string{&s.User, &s.Password, &s.KeyFile, &s.KeyData, &s.KeyPassphrase, &s.KnownHosts, &s.Timeout} {
				*f = InterpolateEnvVars(*f)
			}
		}
	}

	if c.Probe != nil {
		c.Probe.IPv4 = InterpolateEnvVars(c.Probe.IPv4)
		c.Probe.IPv6 = InterpolateEnvVars(c.Probe.IPv6)
	}

	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.Format = InterpolateEnvVars(c.Logging.Format)
	}

	if m := c.Metrics; m != nil {
		for _, f := range []*string{&m.Pushgateway, &m.Job, &m.Username, &m.Password, &m.Timeout} {
			*f = InterpolateEnvVars(*f)
		}
	}
}

// LoadFile reads and parses a configuration file. Files ending in .toml are
// parsed as TOML, everything else as YAML.
// Environment variables in ${VAR} format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// apply copies the values set in the file onto cfg.
// Returns a list of validation errors (may be empty).
func (c *FileConfig) apply(cfg *Config) []string {
	var errs []string

	setIfPresent(&cfg.Zone, c.Zone)
	setIfPresent(&cfg.Hostname, c.Hostname)
	setIfPresent(&cfg.Server, c.Server)
	setIfPresent(&cfg.TLSServerName, c.TLSServerName)

	if c.Mode != "" {
		if err := cfg.Mode.UnmarshalText([]byte(c.Mode)); err != nil {
			errs = append(errs, "mode: "+err.Error())
		}
	}

	if len(c.Addresses) > 0 {
		addrs, err := address.ParseAddrs(c.Addresses)
		if err != nil {
			errs = append(errs, "addresses: "+err.Error())
		}
		cfg.Addresses = addrs
	}

	if c.Timeout != "" {
		d, err := parseDuration(c.Timeout)
		if err != nil {
			errs = append(errs, "timeout: "+err.Error())
		}
		cfg.Timeout = d
	}

	if c.TLS != nil {
		cfg.TLS = *c.TLS
	}

	if k := c.Key; k != nil {
		setIfPresent(&cfg.Key.File, k.File)
		setIfPresent(&cfg.Key.Data, k.Data)
		setIfPresent(&cfg.Key.URL, k.URL)
		if k.Flags != 0 {
			if k.Flags < 0 || k.Flags > 0xFFFF {
				errs = append(errs, fmt.Sprintf("key.flags: %d out of range", k.Flags))
			} else {
				cfg.Key.Flags = uint16(k.Flags)
			}
		}
		if k.TTL != 0 {
			if k.TTL < 0 || int64(k.TTL) > 0xFFFFFFFF {
				errs = append(errs, fmt.Sprintf("key.ttl: %d out of range", k.TTL))
			} else {
				cfg.Key.TTL = uint32(k.TTL)
			}
		}
		if k.SignatureValidity != "" {
			d, err := parseDuration(k.SignatureValidity)
			if err != nil {
				errs = append(errs, "key.signature_validity: "+err.Error())
			}
			cfg.Key.SignatureValidity = d
		}
		if s := k.SFTP; s != nil {
			ssh := &cfg.Key.SSH
			setIfPresent(&ssh.User, s.User)
			setIfPresent(&ssh.Password, s.Password)
			setIfPresent(&ssh.KeyFile, s.KeyFile)
			setIfPresent(&ssh.KeyData, s.KeyData)
			setIfPresent(&ssh.KeyPassphrase, s.KeyPassphrase)
			setIfPresent(&ssh.KnownHostsFile, s.KnownHosts)
			if s.InsecureIgnoreHostKey != nil {
				ssh.InsecureIgnoreHostKey = *s.InsecureIgnoreHostKey
			}
			if s.Timeout != "" {
				d, err := parseDuration(s.Timeout)
				if err != nil {
					errs = append(errs, "key.sftp.timeout: "+err.Error())
				}
				ssh.Timeout = d
			}
		}
	}

	if p := c.Probe; p != nil {
		setIfPresent(&cfg.Probe.IPv4, p.IPv4)
		setIfPresent(&cfg.Probe.IPv6, p.IPv6)
	}

	if l := c.Logging; l != nil {
		setIfPresent(&cfg.LogLevel, strings.ToLower(l.Level))
		setIfPresent(&cfg.LogFormat, strings.ToLower(l.Format))
	}

	if m := c.Metrics; m != nil {
		setIfPresent(&cfg.Metrics.Pushgateway, m.Pushgateway)
		setIfPresent(&cfg.Metrics.Job, m.Job)
		setIfPresent(&cfg.Metrics.Username, m.Username)
		setIfPresent(&cfg.Metrics.Password, m.Password)
		if m.Timeout != "" {
			d, err := parseDuration(m.Timeout)
			if err != nil {
				errs = append(errs, "metrics.timeout: "+err.Error())
			}
			cfg.Metrics.Timeout = d
		}
		if m.TLSSkipVerify != nil {
			cfg.Metrics.TLSSkipVerify = *m.TLSSkipVerify
		}
	}

	return errs
}

// GetConfigFilePath returns the config file path from the environment.
// Returns empty string if no config file is specified.
func GetConfigFilePath() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}
