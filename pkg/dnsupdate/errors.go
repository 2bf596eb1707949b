package dnsupdate

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// Sentinel errors for update construction, signing and delivery.
var (
	// ErrInvalidName is returned when a zone or host name is not a valid domain name.
	ErrInvalidName = errors.New("invalid domain name")

	// ErrEmptyAddressSet is returned when an update is requested without any address.
	ErrEmptyAddressSet = errors.New("no addresses to publish")

	// ErrSigningIdentityInvalid is returned when the private key cannot be loaded
	// or its public key cannot be derived.
	ErrSigningIdentityInvalid = errors.New("signing identity invalid")

	// ErrSigningFailed is returned when computing the SIG(0) record fails.
	ErrSigningFailed = errors.New("signing update failed")

	// ErrConnectionFailed is returned when the connection to the DNS server cannot be established.
	ErrConnectionFailed = errors.New("connection to dns server failed")

	// ErrTransportFailure is returned when the connection breaks while sending
	// the update or awaiting its response.
	ErrTransportFailure = errors.New("transport failure")

	// ErrServerRejected is returned when the server answers with a response code
	// other than NOERROR. The concrete error is a *RcodeError.
	ErrServerRejected = errors.New("update rejected by server")

	// ErrProtocolFailure is returned when the response is absent or malformed.
	ErrProtocolFailure = errors.New("protocol failure")

	// ErrNoAnswer is returned when the server closes the stream without answering.
	ErrNoAnswer = fmt.Errorf("%w: no answer received", ErrProtocolFailure)
)

// RcodeError carries the response code of a rejected update verbatim.
type RcodeError struct {
	Rcode int
}

func (e *RcodeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrServerRejected, RcodeName(e.Rcode))
}

// Is reports ErrServerRejected as a match so callers can use errors.Is.
func (e *RcodeError) Is(target error) bool {
	return target == ErrServerRejected
}

// RcodeName returns the mnemonic for a response code, e.g. "REFUSED".
func RcodeName(rcode int) string {
	if name, ok := dns.RcodeToString[rcode]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", rcode)
}

// RcodeToError converts a DNS rcode to an error. NOERROR maps to nil.
func RcodeToError(rcode int) error {
	if rcode == dns.RcodeSuccess {
		return nil
	}
	return &RcodeError{Rcode: rcode}
}

// RcodeOf extracts the response code from an error returned by Session.Send.
func RcodeOf(err error) (int, bool) {
	var rerr *RcodeError
	if errors.As(err, &rerr) {
		return rerr.Rcode, true
	}
	return 0, false
}

// IsAuthError reports whether the server refused the update for reasons that
// usually point at the SIG(0) key (unknown key, bad signature, no permission).
func IsAuthError(err error) bool {
	rcode, ok := RcodeOf(err)
	if !ok {
		return false
	}
	switch rcode {
	case dns.RcodeRefused, dns.RcodeNotAuth, dns.RcodeBadSig, dns.RcodeBadKey, dns.RcodeBadTime:
		return true
	default:
		return false
	}
}
