// Package address decides which local addresses a host publishes.
//
// Addresses come either from an explicit list, filtered by the requested
// Mode, or from a Detector asking the system for its current addresses.
// When both families are requested a family that cannot be detected is
// skipped; when a single family is requested its absence is an error.
package address

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

// Sentinel errors for address selection.
var (
	// ErrNoCompatibleAddress is returned when none of the explicit addresses
	// matches the requested mode.
	ErrNoCompatibleAddress = errors.New("no address compatible with the requested mode")

	// ErrAddressDetectionFailed is returned when a required family cannot be detected.
	ErrAddressDetectionFailed = errors.New("address detection failed")

	// ErrNoAddressesAvailable is returned when no family could be detected at all.
	ErrNoAddressesAvailable = errors.New("no addresses available")
)

// Detector finds the address the local system uses for each family.
type Detector interface {
	DetectIPv4(ctx context.Context) (netip.Addr, error)
	DetectIPv6(ctx context.Context) (netip.Addr, error)
}

// Selector produces the address set for an update.
type Selector struct {
	detector Detector
	logger   *slog.Logger
}

// Option is a functional option for configuring the Selector.
type Option func(*Selector)

// WithLogger sets a custom logger for the selector.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSelector creates a selector. A nil detector uses the SystemDetector.
func NewSelector(detector Detector, opts ...Option) *Selector {
	s := &Selector{
		detector: detector,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.detector == nil {
		s.detector = NewSystemDetector(WithDetectorLogger(s.logger))
	}

	return s
}

// Select returns the ordered, de-duplicated addresses to publish.
//
// A non-empty explicit list is filtered by mode and never triggers detection.
// Otherwise the detector is asked for every family the mode wants.
func (s *Selector) Select(ctx context.Context, mode Mode, explicit []netip.Addr) ([]netip.Addr, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid address mode %d", uint8(mode))
	}

	if len(explicit) > 0 {
		return s.filter(mode, explicit)
	}

	return s.detect(ctx, mode)
}

func (s *Selector) filter(mode Mode, explicit []netip.Addr) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(explicit))
	for _, addr := range explicit {
		if !mode.Allows(addr) {
			s.logger.Debug("skipping address not allowed by mode",
				slog.String("address", addr.String()),
				slog.String("mode", mode.String()),
			)
			continue
		}
		out = appendUnique(out, addr.Unmap())
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: mode %s, candidates %s", ErrNoCompatibleAddress, mode, joinAddrs(explicit))
	}

	return out, nil
}

func (s *Selector) detect(ctx context.Context, mode Mode) ([]netip.Addr, error) {
	var out []netip.Addr

	families := []struct {
		name   string
		wanted bool
		detect func(context.Context) (netip.Addr, error)
		is4    bool
	}{
		{"ipv4", mode.WantsIPv4(), s.detector.DetectIPv4, true},
		{"ipv6", mode.WantsIPv6(), s.detector.DetectIPv6, false},
	}

	for _, f := range families {
		if !f.wanted {
			continue
		}

		addr, err := f.detect(ctx)
		if err == nil && (!addr.IsValid() || addr.Unmap().Is4() != f.is4) {
			err = fmt.Errorf("detector returned %v for %s", addr, f.name)
		}

		if err != nil {
			if mode != ModeBoth {
				return nil, fmt.Errorf("%w: %s: %w", ErrAddressDetectionFailed, f.name, err)
			}
			s.logger.Debug("address family not detected",
				slog.String("family", f.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Debug("detected local address",
			slog.String("family", f.name),
			slog.String("address", addr.String()),
		)
		out = appendUnique(out, addr.Unmap())
	}

	if len(out) == 0 {
		return nil, ErrNoAddressesAvailable
	}

	return out, nil
}

// ParseAddrs parses address strings, reporting the first invalid one.
// Empty entries are ignored.
func ParseAddrs(values []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", v, err)
		}
		if addr.Zone() != "" {
			return nil, fmt.Errorf("invalid address %q: zoned addresses cannot be published", v)
		}
		out = append(out, addr.Unmap())
	}
	return out, nil
}

func appendUnique(list []netip.Addr, addr netip.Addr) []netip.Addr {
	for _, existing := range list {
		if existing == addr {
			return list
		}
	}
	return append(list, addr)
}

func joinAddrs(addrs []netip.Addr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
