// Package dnsupdatetest provides an in-process authoritative server that
// applies RFC 2136 updates, for tests of code that publishes addresses.
package dnsupdatetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/killerfoxi/whodis/pkg/dnsupdate"
)

// Behavior selects how the server answers updates.
type Behavior int

// Server behaviors.
const (
	// Apply verifies the SIG(0), applies the update and answers NOERROR.
	Apply Behavior = iota

	// Reject answers every update with the configured Rcode without applying it.
	Reject

	// Hangup closes the connection without answering.
	Hangup

	// Unsolicited first sends a response with a foreign ID, then applies the update.
	Unsolicited
)

// Server is a fake authoritative server for a single zone.
type Server struct {
	// Addr is the host:port the server listens on.
	Addr string

	zone     string
	identity *dnsupdate.SigningIdentity

	mu       sync.Mutex
	behavior Behavior
	rcode    int
	records  map[string]map[uint16][]netip.Addr
	requests []*dns.Msg

	srv *dns.Server
}

// NewServer starts a server for zone on 127.0.0.1. When identity is non-nil
// every update must carry a SIG(0) that verifies against it; otherwise the
// server answers NOTAUTH. The server is shut down when the test ends.
func NewServer(tb testing.TB, zone string, identity *dnsupdate.SigningIdentity) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listening: %v", err)
	}

	s := &Server{
		Addr:     ln.Addr().String(),
		zone:     dns.CanonicalName(zone),
		identity: identity,
		records:  make(map[string]map[uint16][]netip.Addr),
	}

	started := make(chan struct{})
	s.srv = &dns.Server{
		Net:               "tcp",
		Listener:          ln,
		Handler:           s,
		MsgAcceptFunc:     acceptUpdates,
		NotifyStartedFunc: func() { close(started) },
	}

	go func() {
		_ = s.srv.ActivateAndServe()
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		tb.Fatalf("dns server did not start")
	}

	tb.Cleanup(func() {
		_ = s.srv.Shutdown()
	})

	return s
}

// acceptUpdates lifts the default limits on section counts, which reject
// UPDATE messages carrying more than one update RR.
func acceptUpdates(dh dns.Header) dns.MsgAcceptAction {
	if dh.Bits&(1<<15) != 0 {
		return dns.MsgIgnore
	}
	opcode := int(dh.Bits>>11) & 0xF
	if opcode != dns.OpcodeUpdate && opcode != dns.OpcodeQuery {
		return dns.MsgRejectNotImplemented
	}
	if dh.Qdcount != 1 {
		return dns.MsgReject
	}
	return dns.MsgAccept
}

// SetBehavior changes how subsequent updates are answered. rcode is used by Reject.
func (s *Server) SetBehavior(b Behavior, rcode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = b
	s.rcode = rcode
}

// Seed stores records as if they had been published earlier.
func (s *Server) Seed(name string, addrs ...netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addrs {
		s.add(dns.CanonicalName(name), dnsupdate.TypeForAddr(a), a.Unmap())
	}
}

// Records returns the addresses currently published for name and type, sorted.
func (s *Server) Records(name string, rrtype uint16) []netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.records[dns.CanonicalName(name)][rrtype]
	out := append([]netip.Addr(nil), set...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Requests returns every message received so far.
func (s *Server) Requests() []*dns.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*dns.Msg(nil), s.requests...)
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req.Copy())

	resp := new(dns.Msg)
	resp.SetReply(req)

	switch s.behavior {
	case Hangup:
		_ = w.Close()
		return

	case Reject:
		resp.Rcode = s.rcode
		_ = w.WriteMsg(resp)
		return

	case Unsolicited:
		foreign := resp.Copy()
		foreign.Id = req.Id + 1
		_ = w.WriteMsg(foreign)
	}

	resp.Rcode = s.apply(req)
	_ = w.WriteMsg(resp)
}

func (s *Server) apply(req *dns.Msg) int {
	if req.Opcode != dns.OpcodeUpdate {
		return dns.RcodeNotImplemented
	}

	q := req.Question[0]
	if dns.CanonicalName(q.Name) != s.zone || q.Qtype != dns.TypeSOA {
		return dns.RcodeNotAuth
	}

	if s.identity != nil {
		wire, err := req.Pack()
		if err != nil || s.identity.Verify(wire) != nil {
			return dns.RcodeNotAuth
		}
	}

	for _, rr := range req.Ns {
		h := rr.Header()
		if !dns.IsSubDomain(s.zone, dns.CanonicalName(h.Name)) {
			return dns.RcodeNotZone
		}
	}

	for _, rr := range req.Ns {
		h := rr.Header()
		name := dns.CanonicalName(h.Name)

		switch h.Class {
		case dns.ClassANY:
			if byType := s.records[name]; byType != nil {
				if h.Rrtype == dns.TypeANY {
					delete(s.records, name)
				} else {
					delete(byType, h.Rrtype)
				}
			}

		case dns.ClassINET:
			rec, err := dnsupdate.RecordFromRR(rr)
			if err != nil {
				return dns.RcodeFormatError
			}
			s.add(name, rec.Type, rec.Addr)

		default:
			return dns.RcodeFormatError
		}
	}

	return dns.RcodeSuccess
}

func (s *Server) add(name string, rrtype uint16, addr netip.Addr) {
	byType := s.records[name]
	if byType == nil {
		byType = make(map[uint16][]netip.Addr)
		s.records[name] = byType
	}
	for _, existing := range byType[rrtype] {
		if existing == addr {
			return
		}
	}
	byType[rrtype] = append(byType[rrtype], addr)
}

// GenerateKeyPEM returns a fresh 2048 bit RSA key in PKCS#1 PEM form.
func GenerateKeyPEM(tb testing.TB) []byte {
	tb.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generating RSA key: %v", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}
