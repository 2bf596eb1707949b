package address

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
)

// Default probe targets. Connecting a UDP socket only consults the routing
// table; nothing is sent to them.
const (
	DefaultProbeIPv4 = "198.41.0.4:53"
	DefaultProbeIPv6 = "[2001:503:ba3e::2:30]:53"
)

// SystemDetector detects addresses from the local network configuration.
// It prefers the source address the kernel would route through toward a
// probe target and falls back to scanning interfaces.
type SystemDetector struct {
	probe4 string
	probe6 string
	logger *slog.Logger

	dial      func(ctx context.Context, network, address string) (net.Conn, error)
	listAddrs func() ([]netip.Addr, error)
}

// DetectorOption is a functional option for configuring the SystemDetector.
type DetectorOption func(*SystemDetector)

// WithDetectorLogger sets a custom logger for the detector.
func WithDetectorLogger(logger *slog.Logger) DetectorOption {
	return func(d *SystemDetector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProbeAddrs overrides the probe targets used for route lookups.
// Empty values keep the defaults.
func WithProbeAddrs(v4, v6 string) DetectorOption {
	return func(d *SystemDetector) {
		if v4 != "" {
			d.probe4 = v4
		}
		if v6 != "" {
			d.probe6 = v6
		}
	}
}

// NewSystemDetector creates a detector using the host's routing table and interfaces.
func NewSystemDetector(opts ...DetectorOption) *SystemDetector {
	var dialer net.Dialer
	d := &SystemDetector{
		probe4:    DefaultProbeIPv4,
		probe6:    DefaultProbeIPv6,
		logger:    slog.Default(),
		dial:      dialer.DialContext,
		listAddrs: interfaceAddrs,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DetectIPv4 returns the local IPv4 address.
func (d *SystemDetector) DetectIPv4(ctx context.Context) (netip.Addr, error) {
	return d.detect(ctx, "udp4", d.probe4, true)
}

// DetectIPv6 returns the local IPv6 address.
func (d *SystemDetector) DetectIPv6(ctx context.Context) (netip.Addr, error) {
	return d.detect(ctx, "udp6", d.probe6, false)
}

func (d *SystemDetector) detect(ctx context.Context, network, probe string, want4 bool) (netip.Addr, error) {
	addr, routeErr := d.routeSource(ctx, network, probe)
	if routeErr == nil && usable(addr, want4) {
		return addr, nil
	}

	if routeErr == nil {
		routeErr = fmt.Errorf("route source %s is not publishable", addr)
	}
	d.logger.Debug("route lookup did not yield an address, scanning interfaces",
		slog.String("network", network),
		slog.String("error", routeErr.Error()),
	)

	candidates, err := d.listAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("listing interface addresses: %w", err)
	}

	for _, c := range candidates {
		if usable(c, want4) {
			return c, nil
		}
	}

	return netip.Addr{}, fmt.Errorf("no usable %s address: %w", network[len("udp"):], routeErr)
}

// routeSource returns the local address of a connected UDP socket toward probe.
func (d *SystemDetector) routeSource(ctx context.Context, network, probe string) (netip.Addr, error) {
	conn, err := d.dial(ctx, network, probe)
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, errors.New("unexpected local address type")
	}

	addr, ok := netip.AddrFromSlice(udp.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid local address %v", udp.IP)
	}

	return addr.Unmap(), nil
}

// usable reports whether addr can be published for the wanted family.
func usable(addr netip.Addr, want4 bool) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() != want4 {
		return false
	}
	return addr.IsGlobalUnicast() && !addr.IsLinkLocalUnicast()
}

// interfaceAddrs lists the unicast addresses of up, non-loopback interfaces.
func interfaceAddrs() ([]netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []netip.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if addr, ok := netip.AddrFromSlice(ipnet.IP); ok {
				out = append(out, addr.Unmap())
			}
		}
	}

	return out, nil
}
