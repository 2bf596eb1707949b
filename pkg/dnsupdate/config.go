package dnsupdate

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Default configuration values.
const (
	// DefaultPort is the standard DNS port.
	DefaultPort = 53

	// DefaultTLSPort is the DNS over TLS port.
	DefaultTLSPort = 853

	// DefaultTimeout bounds connection establishment.
	DefaultTimeout = 5 * time.Second
)

// Config holds the transport settings for delivering an update.
type Config struct {
	// Server is the DNS server address in host:port format (required).
	// If port is omitted, defaults to 53 (853 with UseTLS).
	Server string

	// Zone is the DNS zone to update (required).
	Zone string

	// Timeout bounds connection establishment (default: 5s).
	Timeout time.Duration

	// UseTLS sends the update over DNS over TLS instead of plain TCP.
	UseTLS bool

	// TLSServerName overrides the name used to verify the server certificate.
	// Defaults to the host part of Server.
	TLSServerName string
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server == "" {
		errs = append(errs, "server is required")
	} else if _, _, err := net.SplitHostPort(c.GetServer()); err != nil {
		errs = append(errs, fmt.Sprintf("server %q is not a valid address: %v", c.Server, err))
	}

	if c.Zone == "" {
		errs = append(errs, "zone is required")
	} else if _, ok := dns.IsDomainName(c.Zone); !ok {
		errs = append(errs, fmt.Sprintf("zone %q is not a valid domain name", c.Zone))
	}

	if c.Timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("dnsupdate config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetServer returns the server address with port.
// If no port is specified, appends the default DNS port.
func (c *Config) GetServer() string {
	if c.Server == "" {
		return ""
	}

	if _, _, err := net.SplitHostPort(c.Server); err == nil {
		return c.Server
	}

	port := DefaultPort
	if c.UseTLS {
		port = DefaultTLSPort
	}

	host := strings.TrimSuffix(strings.TrimPrefix(c.Server, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GetTimeout returns the configured timeout or the default.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// GetTLSServerName returns the name the server certificate is verified against.
func (c *Config) GetTLSServerName() string {
	if c.TLSServerName != "" {
		return c.TLSServerName
	}
	host, _, err := net.SplitHostPort(c.GetServer())
	if err != nil {
		return c.Server
	}
	return host
}

// Network returns the miekg/dns network name for the configured transport.
func (c *Config) Network() string {
	if c.UseTLS {
		return "tcp-tls"
	}
	return "tcp"
}
