package address

import (
	"fmt"
	"net/netip"
	"strings"
)

// Mode selects which address families are published.
type Mode uint8

// Address modes. The zero value is invalid.
const (
	ModeIPv4 Mode = 1 << iota
	ModeIPv6

	ModeBoth = ModeIPv4 | ModeIPv6
)

// ParseMode parses a mode name. Accepted spellings are v4/ipv4/4,
// v6/ipv6/6 and both/dual/any/all, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v4", "ipv4", "4":
		return ModeIPv4, nil
	case "v6", "ipv6", "6":
		return ModeIPv6, nil
	case "both", "dual", "any", "all":
		return ModeBoth, nil
	default:
		return 0, fmt.Errorf("invalid address mode %q (expected v4, v6 or both)", s)
	}
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m == ModeIPv4 || m == ModeIPv6 || m == ModeBoth
}

// WantsIPv4 reports whether IPv4 addresses are published in this mode.
func (m Mode) WantsIPv4() bool {
	return m&ModeIPv4 != 0
}

// WantsIPv6 reports whether IPv6 addresses are published in this mode.
func (m Mode) WantsIPv6() bool {
	return m&ModeIPv6 != 0
}

// Allows reports whether addr belongs to a family this mode publishes.
func (m Mode) Allows(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	if addr.Unmap().Is4() {
		return m.WantsIPv4()
	}
	return m.WantsIPv6()
}

func (m Mode) String() string {
	switch m {
	case ModeIPv4:
		return "v4"
	case ModeIPv6:
		return "v6"
	case ModeBoth:
		return "both"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid address mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so modes can be read
// from YAML and TOML configuration files.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
