package dnsupdate

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/miekg/dns"
)

// KEY record flag values (RFC 2535 §3.1.2 name type field).
const (
	// KeyFlagsZone marks the key as belonging to the zone (dnssec-keygen -n ZONE).
	KeyFlagsZone uint16 = 256

	// KeyFlagsHost marks the key as belonging to a host (dnssec-keygen -n HOST).
	KeyFlagsHost uint16 = 512

	// KeyProtocol is the only protocol value defined for KEY records.
	KeyProtocol uint8 = 3
)

// RSA modulus bounds for RSASHA256 (RFC 5702 §2, raised to what crypto/rsa signs with).
const (
	minRSABits = 1024
	maxRSABits = 4096
)

// Signature timing defaults.
const (
	// DefaultSignatureValidity is how long a SIG(0) stays valid after signing.
	DefaultSignatureValidity = 5 * time.Minute

	// DefaultClockFudge backdates the inception to tolerate server clock skew.
	DefaultClockFudge = 5 * time.Minute

	// DefaultKeyTTL is the TTL of the printed KEY record.
	DefaultKeyTTL uint32 = 3600
)

// SigningIdentity is an RSA private key together with the public KEY record
// derived from it and the zone that owns the key. It is immutable once built.
type SigningIdentity struct {
	zone  string
	key   *rsa.PrivateKey
	keyRR dns.KEY
}

type identityOptions struct {
	flags uint16
	ttl   uint32
}

// IdentityOption is a functional option for LoadSigningIdentity.
type IdentityOption func(*identityOptions)

// WithKeyFlags sets the flags of the derived KEY record (default KeyFlagsZone).
// The flags take part in the key tag, so they must match the published record.
func WithKeyFlags(flags uint16) IdentityOption {
	return func(o *identityOptions) {
		o.flags = flags
	}
}

// WithKeyTTL sets the TTL shown when the KEY record is printed (default DefaultKeyTTL).
func WithKeyTTL(ttl uint32) IdentityOption {
	return func(o *identityOptions) {
		o.ttl = ttl
	}
}

// LoadSigningIdentity validates PEM encoded key material and derives the
// public KEY record owned by zone. Every key problem is reported as
// ErrSigningIdentityInvalid.
func LoadSigningIdentity(zone string, pemBytes []byte, opts ...IdentityOption) (*SigningIdentity, error) {
	zone, err := CanonicalName(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: zone: %w", ErrSigningIdentityInvalid, err)
	}

	o := identityOptions{flags: KeyFlagsZone, ttl: DefaultKeyTTL}
	for _, opt := range opts {
		opt(&o)
	}

	key, err := ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningIdentityInvalid, err)
	}

	keyRR := dns.KEY{DNSKEY: dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   zone,
			Rrtype: dns.TypeKEY,
			Class:  dns.ClassINET,
			Ttl:    o.ttl,
		},
		Flags:     o.flags,
		Protocol:  KeyProtocol,
		Algorithm: dns.RSASHA256,
		PublicKey: encodeRSAPublicKey(&key.PublicKey),
	}}

	if keyRR.KeyTag() == 0 {
		return nil, fmt.Errorf("%w: derived public key has key tag 0", ErrSigningIdentityInvalid)
	}

	return &SigningIdentity{zone: zone, key: key, keyRR: keyRR}, nil
}

// ParsePrivateKey decodes the first private key block of a PEM document.
// Only RSA keys are accepted since updates are signed with RSASHA256.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no PEM private key block found")
		}

		var key *rsa.PrivateKey
		switch block.Type {
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS#1 key: %w", err)
			}
			key = k

		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
			}
			rsaKey, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("unsupported key type %T (only RSA keys can sign RSASHA256)", k)
			}
			key = rsaKey

		case "ENCRYPTED PRIVATE KEY":
			return nil, errors.New("encrypted private keys are not supported")

		case "EC PRIVATE KEY", "OPENSSH PRIVATE KEY":
			return nil, fmt.Errorf("unsupported key block %q (only RSA keys can sign RSASHA256)", block.Type)

		default:
			continue
		}

		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("validating RSA key: %w", err)
		}
		if bits := key.N.BitLen(); bits < minRSABits || bits > maxRSABits {
			return nil, fmt.Errorf("RSA key size %d bits outside %d-%d", bits, minRSABits, maxRSABits)
		}
		key.Precompute()
		return key, nil
	}
}

// encodeRSAPublicKey renders an RSA public key in the RFC 3110 wire layout,
// base64 encoded as used in KEY and DNSKEY presentation format.
func encodeRSAPublicKey(pub *rsa.PublicKey) string {
	exp := big.NewInt(int64(pub.E)).Bytes()

	buf := make([]byte, 0, 3+len(exp)+len(pub.N.Bytes()))
	if len(exp) < 256 {
		buf = append(buf, uint8(len(exp)))
	} else {
		buf = append(buf, 0, uint8(len(exp)>>8), uint8(len(exp)))
	}
	buf = append(buf, exp...)
	buf = append(buf, pub.N.Bytes()...)

	return base64.StdEncoding.EncodeToString(buf)
}

// Zone returns the owner name of the key, which is also the signer name.
func (id *SigningIdentity) Zone() string {
	return id.zone
}

// KeyTag returns the key tag of the derived KEY record.
func (id *SigningIdentity) KeyTag() uint16 {
	return id.keyRR.KeyTag()
}

// KEY returns a copy of the derived public KEY record.
func (id *SigningIdentity) KEY() *dns.KEY {
	rr := id.keyRR
	return &rr
}

// Verify checks that wire is a message carrying a valid SIG(0) made with
// this identity's key.
func (id *SigningIdentity) Verify(wire []byte) error {
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return fmt.Errorf("unpacking signed message: %w", err)
	}

	if len(msg.Extra) == 0 {
		return errors.New("message carries no SIG(0) record")
	}

	sig, ok := msg.Extra[len(msg.Extra)-1].(*dns.SIG)
	if !ok {
		return errors.New("last additional record is not a SIG record")
	}

	if sig.KeyTag != id.KeyTag() {
		return fmt.Errorf("signature key tag %d does not match key %d", sig.KeyTag, id.KeyTag())
	}

	return sig.Verify(&id.keyRR, wire)
}

// Signer produces the wire form of a message with its authentication attached.
type Signer interface {
	Sign(msg *dns.Msg) ([]byte, error)
}

// Sig0Signer signs messages with a SigningIdentity.
type Sig0Signer struct {
	identity *SigningIdentity
	validity time.Duration
	fudge    time.Duration
	now      func() time.Time
}

// Sig0Option is a functional option for configuring the Sig0Signer.
type Sig0Option func(*Sig0Signer)

// WithSignatureValidity sets how long signatures remain valid.
func WithSignatureValidity(d time.Duration) Sig0Option {
	return func(s *Sig0Signer) {
		if d > 0 {
			s.validity = d
		}
	}
}

// withClock replaces the time source used for inception and expiration.
func withClock(now func() time.Time) Sig0Option {
	return func(s *Sig0Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSig0Signer creates a signer for the given identity.
func NewSig0Signer(identity *SigningIdentity, opts ...Sig0Option) *Sig0Signer {
	s := &Sig0Signer{
		identity: identity,
		validity: DefaultSignatureValidity,
		fudge:    DefaultClockFudge,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sign computes the SIG(0) record over msg and returns the signed wire
// message. msg itself is not modified, so its ID and content must be final.
func (s *Sig0Signer) Sign(msg *dns.Msg) ([]byte, error) {
	if s == nil || s.identity == nil {
		return nil, fmt.Errorf("%w: no signing identity", ErrSigningFailed)
	}

	now := s.now().UTC()

	sig := new(dns.SIG)
	sig.Hdr = dns.RR_Header{
		Name:   ".",
		Rrtype: dns.TypeSIG,
		Class:  dns.ClassANY,
		Ttl:    0,
	}
	sig.Algorithm = s.identity.keyRR.Algorithm
	sig.KeyTag = s.identity.KeyTag()
	sig.SignerName = s.identity.zone
	sig.Inception = uint32(now.Add(-s.fudge).Unix())
	sig.Expiration = uint32(now.Add(s.validity).Unix())

	wire, err := sig.Sign(s.identity.key, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	return wire, nil
}
