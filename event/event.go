// Package event defines the life-cycle events a connection handle publishes.
package event

import "fmt"

// Kind identifies which life-cycle event occurred.
type Kind int

const (
	KindOpen    Kind = iota + 1 // host confirmed the connection is open
	KindError                   // host reported an error, or the handle detected a fault
	KindClosing                 // a close was initiated locally
	KindClosed                  // the connection is closed, terminal
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindError:
		return "error"
	case KindClosing:
		return "closing"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseEvent is the payload of a Closed event.
type CloseEvent struct {
	Code     uint16
	Reason   string
	WasClean bool
}

func (c CloseEvent) String() string {
	return fmt.Sprintf("code=%d reason=%q clean=%t", c.Code, c.Reason, c.WasClean)
}

// Event is an immutable life-cycle notification. Close is only set for
// KindClosed; Err is optional and only set for KindError.
type Event struct {
	Kind  Kind
	Close CloseEvent
	Err   error
}

// Open reports that the host confirmed the connection.
func Open() Event {
	return Event{Kind: KindOpen}
}

// Error reports a failure; err may be nil.
func Error(err error) Event {
	return Event{Kind: KindError, Err: err}
}

// Closing reports that a local close has started.
func Closing() Event {
	return Event{Kind: KindClosing}
}

// Closed reports the terminal close and how it happened.
func Closed(c CloseEvent) Event {
	return Event{Kind: KindClosed, Close: c}
}

func (e Event) String() string {
	switch e.Kind {
	case KindClosed:
		return "closed(" + e.Close.String() + ")"
	case KindError:
		if e.Err != nil {
			return "error(" + e.Err.Error() + ")"
		}
	}
	return e.Kind.String()
}

// Filter selects the events an observer wants. A nil Filter selects all.
type Filter = func(Event) bool

// Kinds returns a filter that passes only the listed kinds.
func Kinds(kinds ...Kind) Filter {
	return func(e Event) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// Not inverts a filter.
func Not(f Filter) Filter {
	return func(e Event) bool {
		return !f(e)
	}
}
