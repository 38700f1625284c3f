package backend

import (
	"encoding/json"
	"fmt"
)

// Op identifies the kind of invalidation carried by a Message.
type Op string

const (
	// OpDelete invalidates a single key.
	OpDelete Op = "delete"

	// OpPattern invalidates all keys matching a glob pattern.
	OpPattern Op = "pattern"

	// OpClear invalidates everything.
	OpClear Op = "clear"
)

// Message is the cross-instance invalidation payload. Instances publish
// one after every local write or explicit invalidation so that peers can
// drop their volatile copies. Origin carries the publisher's instance ID;
// subscribers skip messages carrying their own.
type Message struct {
	Op      Op     `json:"op"`
	Key     string `json:"key,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Origin  string `json:"origin"`
}

// Encode serializes the message for publishing.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a received invalidation payload.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode invalidation message: %w", err)
	}
	switch m.Op {
	case OpDelete, OpPattern, OpClear:
	default:
		return Message{}, fmt.Errorf("decode invalidation message: unknown op %q", m.Op)
	}
	return m, nil
}
