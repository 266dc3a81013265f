package transport

import (
	"context"
	"errors"

	"github.com/risa-org/wsstream/message"
	"github.com/risa-org/wsstream/wserr"
)

// ErrTransportClosed is returned by Host.Send once the underlying
// connection is gone. Callers check it with errors.Is.
var ErrTransportClosed = errors.New("transport closed")

// Close codes used by the bindings.
const (
	CodeNormalClosure uint16 = 1000
	CodeGoingAway     uint16 = 1001
	CodeNoStatus      uint16 = 1005
	CodeAbnormal      uint16 = 1006
)

// FrameType is the host-native kind of a frame.
type FrameType int

const (
	FrameUnknown FrameType = iota // anything the host can't classify
	FrameText
	FrameBinary
)

// Frame is a single message as the host hands it over, before it is
// turned into a message.Message.
type Frame struct {
	Type FrameType
	Data []byte
}

// Callbacks is what a host drives. A host MUST serialize its calls: no two
// callbacks of the same connection ever run at the same time.
//
// Contract:
//   - exactly one of OnOpen, OnError or OnClose ends the connecting phase
//   - OnMessage only after OnOpen and before OnClose
//   - OnClose eventually follows every RequestClose, exactly once
type Callbacks interface {
	OnOpen()
	OnMessage(f Frame)
	OnError(err error)
	OnClose(code uint16, reason string, wasClean bool)
}

// Host is the transport primitive the handle sends through.
// The core never imports a concrete binding, only this interface.
type Host interface {
	// Send hands a frame to the transport. Usable only while open.
	// Returns once the frame is accepted for transmission, not delivered.
	Send(f Frame) error

	// RequestClose starts the closing handshake. Usable while connecting
	// or open. Must not block on the peer; the outcome arrives as OnClose.
	RequestClose(code uint16, reason string) error
}

// Dialer starts a connection attempt. Dial returns as soon as the attempt
// is under way; the outcome is reported through cb.
type Dialer interface {
	Dial(ctx context.Context, cb Callbacks) (Host, error)
}

// Describer is implemented by hosts that know the negotiated subprotocol.
type Describer interface {
	Subprotocol() string
}

// Decode turns a host frame into a message. Text must be valid UTF-8.
func Decode(f Frame) (message.Message, error) {
	switch f.Type {
	case FrameText:
		return message.TextFromBytes(f.Data)
	case FrameBinary:
		return message.Binary(f.Data), nil
	default:
		return message.Message{}, wserr.New(wserr.KindUnsupportedPayload, "decode", "unknown frame type %d", f.Type)
	}
}

// Encode turns a message into a host frame.
func Encode(m message.Message) Frame {
	if m.IsText() {
		return Frame{Type: FrameText, Data: m.Bytes()}
	}
	return Frame{Type: FrameBinary, Data: m.Bytes()}
}
