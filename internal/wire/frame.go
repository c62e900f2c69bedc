// Package wire defines the JSON text frames exchanged between the feed
// server and its subscribers.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies a frame.
type Type string

const (
	TypePing               Type = "ping"
	TypePong               Type = "pong"
	TypeSimulateDisconnect Type = "simulate_disconnect"
	TypeNewMessage         Type = "new_message"
)

// ErrMissingType is returned by Decode for frames without a type field.
var ErrMissingType = errors.New("frame has no type")

// NewMessage is the payload of a new_message frame.
type NewMessage struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	TS        int64  `json:"ts"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

// Frame is a single protocol message. Data is only set for new_message.
type Frame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode encodes the frame as JSON.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses a JSON frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// NewMessageFrame wraps an event into a new_message frame.
func NewMessageFrame(evt NewMessage) (Frame, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Frame{}, fmt.Errorf("encode new_message: %w", err)
	}
	return Frame{Type: TypeNewMessage, Data: data}, nil
}

// NewMessage extracts the payload of a new_message frame.
func (f Frame) NewMessage() (NewMessage, error) {
	if f.Type != TypeNewMessage {
		return NewMessage{}, fmt.Errorf("frame type %q is not %q", f.Type, TypeNewMessage)
	}
	var evt NewMessage
	if err := json.Unmarshal(f.Data, &evt); err != nil {
		return NewMessage{}, fmt.Errorf("decode new_message: %w", err)
	}
	return evt, nil
}

// Control returns the encoded form of a frame that carries no data.
func Control(t Type) []byte {
	return []byte(`{"type":"` + string(t) + `"}`)
}
