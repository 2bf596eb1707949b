package dnsupdate

import (
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
)

// NewUpdate builds the UPDATE message replacing the address records of host
// in zone with addrs.
//
// The message has a fresh random ID, a single zone entry (zone, SOA, IN) and,
// for each address in order, a delete of the RRset of the matching type
// followed by an add of the new record. When a family occurs more than once,
// all deletes of that family are placed before its first add so a later
// delete cannot remove an address added earlier in the same transaction.
// The message therefore always holds 2*len(addrs) update instructions.
func NewUpdate(zone, host string, addrs []netip.Addr) (*dns.Msg, error) {
	zone, err := CanonicalName(zone)
	if err != nil {
		return nil, fmt.Errorf("zone: %w", err)
	}

	host, err = CanonicalName(host)
	if err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}

	if len(addrs) == 0 {
		return nil, ErrEmptyAddressSet
	}

	perFamily := make(map[uint16]int, 2)
	for _, addr := range addrs {
		if !addr.IsValid() {
			return nil, fmt.Errorf("invalid address %v in address set", addr)
		}
		perFamily[TypeForAddr(addr)]++
	}

	msg := new(dns.Msg)
	msg.SetUpdate(zone)
	msg.Ns = make([]dns.RR, 0, 2*len(addrs))

	cleared := make(map[uint16]bool, 2)
	for _, addr := range addrs {
		record := NewAddressRecord(host, addr, DefaultTTL)

		if !cleared[record.Type] {
			for i := 0; i < perFamily[record.Type]; i++ {
				msg.Ns = append(msg.Ns, DeleteRRset(host, record.Type))
			}
			cleared[record.Type] = true
		}

		rr, err := record.ToRR()
		if err != nil {
			return nil, fmt.Errorf("building record for %s: %w", addr, err)
		}
		msg.Ns = append(msg.Ns, rr)
	}

	return msg, nil
}

// CanonicalName validates name and returns it in lower-case FQDN form.
func CanonicalName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return dns.CanonicalName(name), nil
}

// Instructions returns the update section of msg as address records and
// RRset deletions, in message order. It is used for logging and by tests.
func Instructions(msg *dns.Msg) []Instruction {
	out := make([]Instruction, 0, len(msg.Ns))
	for _, rr := range msg.Ns {
		h := rr.Header()
		inst := Instruction{Name: h.Name, Type: h.Rrtype, Class: h.Class, TTL: h.Ttl}
		if h.Class == dns.ClassANY {
			inst.Op = OpDeleteRRset
		} else {
			inst.Op = OpAdd
			if rec, err := RecordFromRR(rr); err == nil {
				inst.Addr = rec.Addr
			}
		}
		out = append(out, inst)
	}
	return out
}

// Op is the kind of an update instruction.
type Op int

// Update instruction kinds.
const (
	OpAdd Op = iota
	OpDeleteRRset
)

func (o Op) String() string {
	if o == OpDeleteRRset {
		return "delete-rrset"
	}
	return "add"
}

// Instruction is a decoded entry of an update section.
type Instruction struct {
	Op    Op
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Addr  netip.Addr
}
