package message

import (
	"encoding/json"
	"fmt"

	"github.com/risa-org/wsstream/wserr"
	"google.golang.org/protobuf/proto"
)

// FromProto encodes a protobuf message into a binary message.
func FromProto(pb proto.Message) (Message, error) {
	data, err := proto.Marshal(pb)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode protobuf message: %w", err)
	}
	return Binary(data), nil
}

// DecodeProto decodes a binary message into pb. Text messages are
// rejected with an UnsupportedPayload error.
func (m Message) DecodeProto(pb proto.Message) error {
	data, ok := m.AsBinary()
	if !ok {
		return wserr.New(wserr.KindUnsupportedPayload, "decode", "protobuf payload must be binary, got %s", m.Type())
	}
	if err := proto.Unmarshal(data, pb); err != nil {
		return wserr.Wrap(wserr.KindInvalidEncoding, "decode", err)
	}
	return nil
}

// FromJSON encodes v into a text message.
func FromJSON(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode json message: %w", err)
	}
	return Text(string(data)), nil
}

// DecodeJSON decodes either variant into v.
func (m Message) DecodeJSON(v any) error {
	if err := json.Unmarshal(m.Bytes(), v); err != nil {
		return wserr.Wrap(wserr.KindInvalidEncoding, "decode", err)
	}
	return nil
}
