package updater

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/killerfoxi/whodis/pkg/dnsupdate"
)

// State is a step of the update workflow.
type State string

const (
	StateIdle              State = "idle"
	StateAddressesResolved State = "addresses_resolved"
	StateMessageBuilt      State = "message_built"
	StateSigned            State = "signed"
	StateSent              State = "sent"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// Phase names the part of the workflow an error originated in.
type Phase string

const (
	PhaseAddressResolution   Phase = "address resolution"
	PhaseMessageConstruction Phase = "message construction"
	PhaseSigning             Phase = "signing"
	PhaseTransport           Phase = "transport"
	PhaseServer              Phase = "server"
	PhaseProtocol            Phase = "protocol"
)

// PhaseError attaches the failing phase to the underlying cause.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// OutcomeNotSent labels runs that failed before the update reached a server.
const OutcomeNotSent = "not_sent"

// Report holds the complete result of one run.
type Report struct {
	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run reached a terminal state.
	EndTime time.Time

	// State is the last state reached. Terminal runs end in
	// StateSucceeded or StateFailed.
	State State

	// Phase is set when State is StateFailed.
	Phase Phase

	// Zone and Hostname are the names the update was requested for.
	Zone     string
	Hostname string

	// Addresses is the address set that was selected for publishing.
	Addresses []netip.Addr

	// ID is the message ID of the update, zero before it was built.
	ID uint16

	// Sent reports whether the signed update was handed to a session.
	Sent bool

	// Outcome is the transport outcome. It is only meaningful when Sent is
	// set or the run failed in PhaseTransport.
	Outcome dnsupdate.Outcome

	// Rcode is the response code returned by the server, if any.
	Rcode int

	// RTT is the time between sending the update and receiving the response.
	RTT time.Duration
}

func newReport() *Report {
	return &Report{
		StartTime: time.Now(),
		State:     StateIdle,
	}
}

func (r *Report) complete(state State) {
	r.State = state
	r.EndTime = time.Now()
}

// Duration returns the total run duration.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Succeeded returns true if the server accepted the update.
func (r *Report) Succeeded() bool {
	return r.State == StateSucceeded
}

// OutcomeLabel returns the label recorded in metrics for this run.
func (r *Report) OutcomeLabel() string {
	if r.Sent || r.Phase == PhaseTransport {
		return r.Outcome.String()
	}
	if r.State == StateSucceeded {
		return dnsupdate.OutcomeSuccess.String()
	}
	return OutcomeNotSent
}

// Families returns the number of IPv4 and IPv6 addresses in the set.
func (r *Report) Families() (ipv4, ipv6 int) {
	for _, a := range r.Addresses {
		if a.Is4() {
			ipv4++
		} else {
			ipv6++
		}
	}
	return ipv4, ipv6
}

// Summary returns a human-readable summary of the run.
func (r *Report) Summary() string {
	var sb strings.Builder

	addrs := make([]string, len(r.Addresses))
	for i, a := range r.Addresses {
		addrs[i] = a.String()
	}

	if r.Succeeded() {
		fmt.Fprintf(&sb, "Updated %s in %s", r.Hostname, r.Duration().Round(time.Millisecond))
	} else {
		fmt.Fprintf(&sb, "Update of %s failed in %s (%s)", r.Hostname, r.Duration().Round(time.Millisecond), r.Phase)
	}
	if len(addrs) > 0 {
		fmt.Fprintf(&sb, "\n  Addresses: %s", strings.Join(addrs, ", "))
	}
	if r.Sent {
		fmt.Fprintf(&sb, "\n  Message ID: %d\n  Response: %s", r.ID, dnsupdate.RcodeName(r.Rcode))
	}

	return sb.String()
}
