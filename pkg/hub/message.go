// Package hub fans status updates out to websocket clients using a
// channel-based broadcast loop.
package hub

import "encoding/json"

// Envelope is the wire format of every message sent to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Message is a pre-encoded text frame.
type Message struct {
	Type string
	Data []byte
}

// NewMessage encodes v into an envelope of the given type.
func NewMessage(typ string, v any) (Message, error) {
	data, err := json.Marshal(Envelope{Type: typ, Data: v})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: data}, nil
}
