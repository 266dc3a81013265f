// Package wserr enumerates every failure the bridge can surface.
//
// All errors produced by this module are *Error values carrying a Kind.
// Compare against the sentinels with errors.Is. It matches on Kind only,
// so an error built with extra context still matches its sentinel:
//
//	if errors.Is(err, wserr.ErrNotOpen) { ... }
package wserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidTransition: the state machine received an event that is
	// illegal from its current state. Means the host broke its contract.
	KindInvalidTransition
	// KindNotOpen: send or close attempted outside a valid state.
	KindNotOpen
	// KindInvalidEncoding: a text payload was not valid UTF-8.
	KindInvalidEncoding
	// KindUnsupportedPayload: a delivered payload has no Message representation.
	KindUnsupportedPayload
	// KindQueueOverflow: the bounded inbound queue rejected a message.
	KindQueueOverflow
	// KindInconsistentObserver: notifier bookkeeping fault.
	KindInconsistentObserver
	// KindConnectionFailed: the connection closed before it ever opened.
	KindConnectionFailed
	// KindInvalidCloseCode: close code outside 1000 and 3000-4999.
	KindInvalidCloseCode
	// KindReasonTooLong: close reason longer than 123 bytes.
	KindReasonTooLong
	// KindInvalidURL: the dial target cannot be used.
	KindInvalidURL
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid transition"
	case KindNotOpen:
		return "not open"
	case KindInvalidEncoding:
		return "invalid encoding"
	case KindUnsupportedPayload:
		return "unsupported payload"
	case KindQueueOverflow:
		return "queue overflow"
	case KindInconsistentObserver:
		return "inconsistent observer"
	case KindConnectionFailed:
		return "connection failed"
	case KindInvalidCloseCode:
		return "invalid close code"
	case KindReasonTooLong:
		return "close reason too long"
	case KindInvalidURL:
		return "invalid url"
	default:
		return "unknown"
	}
}

// Error is the concrete error type of this module.
type Error struct {
	Kind Kind
	Op   string // operation that failed: "send", "close", "decode", "on_open", ...
	Msg  string // optional detail
	Err  error  // optional cause
}

// Sentinels for errors.Is. Never return these directly when more
// context is available; build a new *Error with the same Kind instead.
var (
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrNotOpen              = &Error{Kind: KindNotOpen}
	ErrInvalidEncoding      = &Error{Kind: KindInvalidEncoding}
	ErrUnsupportedPayload   = &Error{Kind: KindUnsupportedPayload}
	ErrQueueOverflow        = &Error{Kind: KindQueueOverflow}
	ErrInconsistentObserver = &Error{Kind: KindInconsistentObserver}
	ErrConnectionFailed     = &Error{Kind: KindConnectionFailed}
	ErrInvalidCloseCode     = &Error{Kind: KindInvalidCloseCode}
	ErrReasonTooLong        = &Error{Kind: KindReasonTooLong}
	ErrInvalidURL           = &Error{Kind: KindInvalidURL}
)

// New builds an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
