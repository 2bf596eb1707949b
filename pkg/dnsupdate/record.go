package dnsupdate

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// DefaultTTL is the time-to-live given to every published address record.
const DefaultTTL uint32 = 300

// Record represents an address record published for a host.
type Record struct {
	// Name is the owner name in FQDN form.
	Name string

	// Type is dns.TypeA or dns.TypeAAAA.
	Type uint16

	// TTL is the time-to-live in seconds.
	TTL uint32

	// Addr is the published address.
	Addr netip.Addr
}

// NewAddressRecord creates the record publishing addr for name.
// The record type follows the address family.
func NewAddressRecord(name string, addr netip.Addr, ttl uint32) Record {
	addr = addr.Unmap()
	return Record{
		Name: dns.Fqdn(name),
		Type: TypeForAddr(addr),
		TTL:  ttl,
		Addr: addr,
	}
}

// TypeForAddr returns dns.TypeA for IPv4 addresses and dns.TypeAAAA otherwise.
func TypeForAddr(addr netip.Addr) uint16 {
	if addr.Unmap().Is4() {
		return dns.TypeA
	}
	return dns.TypeAAAA
}

// TypeString returns the string representation of the record type.
func (r Record) TypeString() string {
	if name, ok := dns.TypeToString[r.Type]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", r.Type)
}

// String renders the record in zone file presentation format.
func (r Record) String() string {
	return fmt.Sprintf("%s\t%d\tIN\t%s\t%s", r.Name, r.TTL, r.TypeString(), r.Addr)
}

// ToRR converts the Record to a class IN dns.RR.
func (r Record) ToRR() (dns.RR, error) {
	name := r.Name
	if !strings.HasSuffix(name, ".") {
		name += "."
	}

	header := dns.RR_Header{
		Name:   name,
		Rrtype: r.Type,
		Class:  dns.ClassINET,
		Ttl:    r.TTL,
	}

	if !r.Addr.IsValid() {
		return nil, fmt.Errorf("record %s has no address", name)
	}

	switch r.Type {
	case dns.TypeA:
		if !r.Addr.Unmap().Is4() {
			return nil, fmt.Errorf("invalid IPv4 address: %s", r.Addr)
		}
		a := r.Addr.Unmap().As4()
		return &dns.A{Hdr: header, A: a[:]}, nil

	case dns.TypeAAAA:
		if !r.Addr.Is6() || r.Addr.Is4In6() {
			return nil, fmt.Errorf("invalid IPv6 address: %s", r.Addr)
		}
		a := r.Addr.As16()
		return &dns.AAAA{Hdr: header, AAAA: a[:]}, nil

	default:
		return nil, fmt.Errorf("unsupported record type: %s", r.TypeString())
	}
}

// DeleteRRset returns the update instruction removing every record of the
// given type at name: class ANY, TTL 0 and empty rdata (RFC 2136 §2.5.2).
func DeleteRRset(name string, rrtype uint16) dns.RR {
	return &dns.ANY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(name),
			Rrtype: rrtype,
			Class:  dns.ClassANY,
			Ttl:    0,
		},
	}
}

// RecordFromRR creates a Record from an A or AAAA dns.RR.
func RecordFromRR(rr dns.RR) (Record, error) {
	header := rr.Header()
	record := Record{
		Name: header.Name,
		Type: header.Rrtype,
		TTL:  header.Ttl,
	}

	var ok bool
	switch v := rr.(type) {
	case *dns.A:
		record.Addr, ok = netip.AddrFromSlice(v.A.To4())
	case *dns.AAAA:
		record.Addr, ok = netip.AddrFromSlice(v.AAAA.To16())
	default:
		return record, fmt.Errorf("unsupported record type: %s", dns.TypeToString[header.Rrtype])
	}

	if !ok {
		return record, fmt.Errorf("record %s carries an invalid address", header.Name)
	}

	return record, nil
}
