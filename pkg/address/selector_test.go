package address

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type stubDetector struct {
	v4, v6         netip.Addr
	err4, err6     error
	calls4, calls6 int
}

func (d *stubDetector) DetectIPv4(context.Context) (netip.Addr, error) {
	d.calls4++
	return d.v4, d.err4
}

func (d *stubDetector) DetectIPv6(context.Context) (netip.Addr, error) {
	d.calls6++
	return d.v6, d.err6
}

var errNoRoute = errors.New("no route")

func mustAddrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestSelectDetect(t *testing.T) {
	v4 := netip.MustParseAddr("192.0.2.10")
	v6 := netip.MustParseAddr("2001:db8::10")

	tests := []struct {
		name     string
		mode     Mode
		detector *stubDetector
		want     []netip.Addr
		wantErr  error
	}{
		{
			name:     "both detected",
			mode:     ModeBoth,
			detector: &stubDetector{v4: v4, v6: v6},
			want:     []netip.Addr{v4, v6},
		},
		{
			name:     "both requested, only IPv4 detected",
			mode:     ModeBoth,
			detector: &stubDetector{v4: v4, err6: errNoRoute},
			want:     []netip.Addr{v4},
		},
		{
			name:     "both requested, only IPv6 detected",
			mode:     ModeBoth,
			detector: &stubDetector{err4: errNoRoute, v6: v6},
			want:     []netip.Addr{v6},
		},
		{
			name:     "both requested, nothing detected",
			mode:     ModeBoth,
			detector: &stubDetector{err4: errNoRoute, err6: errNoRoute},
			wantErr:  ErrNoAddressesAvailable,
		},
		{
			name:     "IPv4 only",
			mode:     ModeIPv4,
			detector: &stubDetector{v4: v4, v6: v6},
			want:     []netip.Addr{v4},
		},
		{
			name:     "IPv6 required but missing",
			mode:     ModeIPv6,
			detector: &stubDetector{v4: v4, err6: errNoRoute},
			wantErr:  ErrAddressDetectionFailed,
		},
		{
			name:     "IPv4 required but missing",
			mode:     ModeIPv4,
			detector: &stubDetector{err4: errNoRoute, v6: v6},
			wantErr:  ErrAddressDetectionFailed,
		},
		{
			name:     "detector returns wrong family",
			mode:     ModeIPv4,
			detector: &stubDetector{v4: v6},
			wantErr:  ErrAddressDetectionFailed,
		},
		{
			name:     "IPv4-mapped detection is unmapped",
			mode:     ModeIPv4,
			detector: &stubDetector{v4: netip.MustParseAddr("::ffff:192.0.2.10")},
			want:     []netip.Addr{v4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSelector(tt.detector).Select(context.Background(), tt.mode, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !equalAddrs(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectDetectionCauseIsWrapped(t *testing.T) {
	_, err := NewSelector(&stubDetector{err6: errNoRoute}).Select(context.Background(), ModeIPv6, nil)
	if !errors.Is(err, errNoRoute) {
		t.Errorf("Select() error = %v, want wrapped detector cause", err)
	}
}

func TestSelectExplicit(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		explicit []netip.Addr
		want     []netip.Addr
		wantErr  error
	}{
		{
			name:     "both keeps all in order",
			mode:     ModeBoth,
			explicit: mustAddrs("2001:db8::1", "192.0.2.1"),
			want:     mustAddrs("2001:db8::1", "192.0.2.1"),
		},
		{
			name:     "IPv4 filters IPv6",
			mode:     ModeIPv4,
			explicit: mustAddrs("2001:db8::1", "192.0.2.1"),
			want:     mustAddrs("192.0.2.1"),
		},
		{
			name:     "IPv6 only with IPv4 list",
			mode:     ModeIPv6,
			explicit: mustAddrs("192.0.2.1", "192.0.2.2"),
			wantErr:  ErrNoCompatibleAddress,
		},
		{
			name:     "duplicates removed",
			mode:     ModeBoth,
			explicit: mustAddrs("192.0.2.1", "::ffff:192.0.2.1", "192.0.2.1"),
			want:     mustAddrs("192.0.2.1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &stubDetector{}
			got, err := NewSelector(det).Select(context.Background(), tt.mode, tt.explicit)
			if det.calls4+det.calls6 != 0 {
				t.Errorf("detector consulted despite explicit addresses")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !equalAddrs(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectInvalidMode(t *testing.T) {
	if _, err := NewSelector(&stubDetector{}).Select(context.Background(), 0, nil); err == nil {
		t.Error("Select() expected error for zero mode")
	}
}

func TestParseAddrs(t *testing.T) {
	got, err := ParseAddrs([]string{" 192.0.2.1", "", "2001:db8::1", "::ffff:198.51.100.7"})
	if err != nil {
		t.Fatalf("ParseAddrs() error = %v", err)
	}
	want := mustAddrs("192.0.2.1", "2001:db8::1", "198.51.100.7")
	if !equalAddrs(got, want) {
		t.Errorf("ParseAddrs() = %v, want %v", got, want)
	}

	for _, bad := range []string{"192.0.2", "host.example.com", "fe80::1%eth0"} {
		if _, err := ParseAddrs([]string{"192.0.2.1", bad}); err == nil {
			t.Errorf("ParseAddrs(%q) expected error", bad)
		}
	}
}

func equalAddrs(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
