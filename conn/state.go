package conn

import (
	"github.com/risa-org/wsstream/event"
	"github.com/risa-org/wsstream/wserr"
)

// State is the phase a connection is in.
type State int

const (
	StateConnecting State = iota // initial, host has not confirmed open yet
	StateOpen                    // messages flowing both ways
	StateClosing                 // close initiated, waiting for host confirmation
	StateClosed                  // terminal, nothing comes after it
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// allowed lists the legal moves out of each state.
// Connecting -> Closing covers a local close issued before the host
// confirmed open. Closed is terminal.
var allowed = map[State][]State{
	StateConnecting: {StateOpen, StateClosing, StateClosed},
	StateOpen:       {StateClosing, StateClosed},
	StateClosing:    {StateClosed},
	StateClosed:     {},
}

func isValidTransition(from, to State) bool {
	for _, valid := range allowed[from] {
		if to == valid {
			return true
		}
	}
	return false
}

// Machine tracks one connection's state. It is not safe for concurrent
// use; the Handle that owns it serializes access.
type Machine struct {
	state  State
	errors int
}

// NewMachine returns a machine in StateConnecting.
func NewMachine() *Machine {
	return &Machine{state: StateConnecting}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.state
}

// Errors returns how many Error events were applied.
func (m *Machine) Errors() int {
	return m.errors
}

// Transition applies the state change implied by ev and returns the new
// state. An Error event never changes state but is counted; it is still
// rejected once the machine is closed. On an illegal move the state is
// left unchanged and an InvalidTransition error is returned.
func (m *Machine) Transition(ev event.Event) (State, error) {
	var next State
	switch ev.Kind {
	case event.KindOpen:
		next = StateOpen
	case event.KindClosing:
		next = StateClosing
	case event.KindClosed:
		next = StateClosed
	case event.KindError:
		if m.state == StateClosed {
			return m.state, m.invalid(ev)
		}
		m.errors++
		return m.state, nil
	default:
		return m.state, m.invalid(ev)
	}

	if !isValidTransition(m.state, next) {
		return m.state, m.invalid(ev)
	}
	m.state = next
	return m.state, nil
}

func (m *Machine) invalid(ev event.Event) error {
	return wserr.New(wserr.KindInvalidTransition, "transition", "%s event while %s", ev.Kind, m.state)
}
