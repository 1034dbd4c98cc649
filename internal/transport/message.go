package transport

import (
	"github.com/bytedance/sonic"

	"swift/job-engine/pkg/types"
)

// Message is the envelope carried by the broker.
type Message struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Last          bool              `json:"last,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil || msg.ID == "" {
		return nil, types.NewProtocolError("message without id", nil)
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, types.NewProtocolError("encode message", err)
	}
	return data, nil
}

// Decode parses a message read from the wire. Malformed input is a protocol error.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, types.NewProtocolError("decode message", err)
	}
	if msg.ID == "" {
		return nil, types.NewProtocolError("message without id", nil)
	}
	return &msg, nil
}
