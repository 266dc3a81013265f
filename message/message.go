// Package message defines the payload that flows through a stream.
package message

import (
	"bytes"
	"unicode/utf8"

	"github.com/risa-org/wsstream/wserr"
)

// Type tells the two message variants apart.
type Type int

const (
	TypeText Type = iota + 1
	TypeBinary
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is either a text or a binary payload. The zero value is an
// empty binary message. Treat messages as immutable once built.
type Message struct {
	typ  Type
	text string
	data []byte
}

// Text builds a text message.
func Text(s string) Message {
	return Message{typ: TypeText, text: s}
}

// Binary builds a binary message. The slice is not copied.
func Binary(b []byte) Message {
	return Message{typ: TypeBinary, data: b}
}

// TextFromBytes builds a text message from raw bytes, rejecting invalid UTF-8.
func TextFromBytes(b []byte) (Message, error) {
	if !utf8.Valid(b) {
		return Message{}, wserr.New(wserr.KindInvalidEncoding, "decode", "text payload is not valid UTF-8")
	}
	return Text(string(b)), nil
}

func (m Message) Type() Type {
	if m.typ == 0 {
		return TypeBinary
	}
	return m.typ
}

func (m Message) IsText() bool   { return m.typ == TypeText }
func (m Message) IsBinary() bool { return m.typ != TypeText }

// AsText returns the text and true for a text message.
func (m Message) AsText() (string, bool) {
	if m.typ != TypeText {
		return "", false
	}
	return m.text, true
}

// AsBinary returns the bytes and true for a binary message.
func (m Message) AsBinary() ([]byte, bool) {
	if m.typ == TypeText {
		return nil, false
	}
	return m.data, true
}

// Bytes returns the payload regardless of variant. Text is returned as
// its UTF-8 bytes.
func (m Message) Bytes() []byte {
	if m.typ == TypeText {
		return []byte(m.text)
	}
	return m.data
}

// String returns the payload as a string regardless of variant.
func (m Message) String() string {
	if m.typ == TypeText {
		return m.text
	}
	return string(m.data)
}

// Len is the payload length in bytes.
func (m Message) Len() int {
	if m.typ == TypeText {
		return len(m.text)
	}
	return len(m.data)
}

func (m Message) IsEmpty() bool {
	return m.Len() == 0
}

// Equal reports whether both messages have the same variant and payload.
// A nil and an empty binary payload are equal.
func (m Message) Equal(o Message) bool {
	if m.Type() != o.Type() {
		return false
	}
	if m.typ == TypeText {
		return m.text == o.text
	}
	return bytes.Equal(m.data, o.data)
}
