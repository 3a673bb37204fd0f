package models

import (
	"encoding/json"
	"fmt"
)

// StreamOp is the type of a store stream message.
type StreamOp string

const (
	// Client to server
	StreamListen   StreamOp = "listen"
	StreamUnlisten StreamOp = "unlisten"

	// Server to client
	StreamSnapshot StreamOp = "snapshot"
	StreamError    StreamOp = "error"
)

// StreamMessage is the envelope exchanged on the store websocket. A listen
// is identified by the client-chosen ID; snapshots and errors echo it.
type StreamMessage struct {
	Op   StreamOp `json:"op"`
	ID   int64    `json:"id"`
	Path string   `json:"path,omitempty"`

	// Listen filters
	OrderBy     string `json:"orderBy,omitempty"`
	EqualTo     string `json:"equalTo,omitempty"`
	LimitToLast int    `json:"limitToLast,omitempty"`

	// Snapshot payload, children in query order
	Seq      int64    `json:"seq,omitempty"`
	Children []Record `json:"children,omitempty"`

	// Error payload
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseStreamMessage parses a raw websocket frame.
func ParseStreamMessage(data []byte) (*StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse stream message: %w", err)
	}

	switch msg.Op {
	case StreamListen, StreamUnlisten, StreamSnapshot, StreamError:
	default:
		return nil, fmt.Errorf("unknown stream op: %q", msg.Op)
	}

	if (msg.Op == StreamListen || msg.Op == StreamSnapshot) && msg.Path == "" {
		return nil, fmt.Errorf("%s message without path", msg.Op)
	}

	return &msg, nil
}
