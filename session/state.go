package session

import (
	"time"

	"github.com/halvorsen/parlor/transport"
)

// State is one of the PeerSession lifecycle states from spec.md §4.4.
type State string

const (
	StateIdle        State = "idle"
	StateOffering    State = "offering"
	StateAnswering   State = "answering"
	StateNegotiating State = "negotiating"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateClosed      State = "closed"
)

// timeoutFor returns the Δ timeout for a non-terminal state, or zero if the
// state has none (idle and connected/closed never time out on their own).
func timeoutFor(s State) time.Duration {
	switch s {
	case StateOffering, StateAnswering:
		return 30 * time.Second
	case StateNegotiating, StateConnecting:
		return 15 * time.Second
	default:
		return 0
	}
}

// IsTerminal reports whether s is the terminal closed state.
func (s State) IsTerminal() bool { return s == StateClosed }

// transportStallTimeout is the Δ timeout for the ICE states a direct
// connection can get stuck in before ever reaching Connected — spec.md
// §5's stall detection, distinct from the higher-level session state
// timeouts above.
func transportStallTimeout(st transport.ConnectionState) time.Duration {
	switch st {
	case transport.StateNew, transport.StateChecking:
		return 20 * time.Second
	default:
		return 0
	}
}
