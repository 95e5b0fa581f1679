// Package hub fans JSON messages out to websocket clients. One goroutine owns
// the client set; every client has its own buffered queue and writer.
package hub

import (
	"encoding/json"
	"fmt"
)

// Message is one JSON document queued for broadcast.
type Message struct {
	Data []byte
}

// NewMessage encodes v as a Message.
func NewMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("hub: encode: %w", err)
	}
	return Message{Data: data}, nil
}

// Event is the envelope for everything the status hub broadcasts.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
