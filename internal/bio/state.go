package bio

import "fmt"

// State is the adapter connection lifecycle:
//
//	Disconnected → Connecting → Connected → (Streaming ↔ Calibrating) → Error
//
// Error is terminal until an explicit Reset returns the adapter to
// Disconnected. Stimulation is only permitted from Connected or Streaming.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
	Calibrating
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Calibrating:
		return "calibrating"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanStimulate reports whether ApplyStimulus is legal from s.
func (s State) CanStimulate() bool {
	return s == Connected || s == Streaming
}

// canTransition encodes the legal lifecycle edges. Reset (Error →
// Disconnected) is handled separately because it is the only way out of
// Error.
func canTransition(from, to State) bool {
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Error
	case Connected:
		return to == Streaming || to == Calibrating || to == Error || to == Disconnected
	case Streaming:
		return to == Calibrating || to == Connected || to == Error
	case Calibrating:
		return to == Streaming || to == Connected || to == Error
	case Error:
		return false
	default:
		return false
	}
}

// transition validates and performs a state change, returning ErrBadState on
// an illegal edge.
func transition(current *State, to State) error {
	if !canTransition(*current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, *current, to)
	}
	*current = to
	return nil
}
