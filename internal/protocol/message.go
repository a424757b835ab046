// Package protocol describes the debugging-protocol messages that flow
// through the relay.
//
// Every WebSocket text frame carries one JSON message. The relay never
// validates or rewrites messages; decoding exists only so traffic can be
// rendered in the diagnostics log, and routing always uses the raw bytes.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is a loosely-typed protocol message. Commands carry ID, Method and
// Params; events carry Method and Params; replies carry ID and either Result
// or Error.
type Message struct {
	// ID is nil for events.
	ID *int64 `json:"id,omitempty"`

	Method string `json:"method,omitempty"`

	// Params is kept opaque; no schema is enforced.
	Params json.RawMessage `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ErrNotObject is returned by Decode when the payload is valid JSON but not
// a JSON object.
var ErrNotObject = errors.New("message is not a JSON object")

// Decode parses data as a Message. It fails for anything that is not a
// well-formed JSON object whose id, if present, is an integer.
func Decode(data []byte) (Message, error) {
	var msg Message
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return msg, ErrNotObject
		}
		return msg, fmt.Errorf("decode message: invalid JSON")
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// IsReply reports whether the message answers a command.
func (m Message) IsReply() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// CompactParams returns Params as single-line JSON, or "" when absent.
func (m Message) CompactParams() string {
	return compact(m.Params)
}

// CompactResult returns Result (or Error, for failed replies) as
// single-line JSON, or "" when absent.
func (m Message) CompactResult() string {
	if m.Error != nil {
		return compact(m.Error)
	}
	return compact(m.Result)
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
