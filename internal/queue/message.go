// Package queue delivers DSR messages through Redis and dispatches them to
// the export and delete workers.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"privacy/api/internal/dsr"
)

var ErrInvalidMessage = errors.New("invalid queue message")

// ParseMessage normalizes a delivery payload. Payloads may be a Message, raw
// JSON bytes, a JSON string (possibly encoded twice) or a decoded object.
func ParseMessage(payload any) (dsr.Message, error) {
	var msg dsr.Message
	switch typed := payload.(type) {
	case dsr.Message:
		msg = typed
	case *dsr.Message:
		if typed == nil {
			return dsr.Message{}, fmt.Errorf("%w: nil message", ErrInvalidMessage)
		}
		msg = *typed
	case string:
		return parseJSON([]byte(typed), true)
	case []byte:
		return parseJSON(typed, true)
	case json.RawMessage:
		return parseJSON(typed, true)
	case map[string]any:
		raw, err := json.Marshal(typed)
		if err != nil {
			return dsr.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return parseJSON(raw, false)
	default:
		return dsr.Message{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidMessage, payload)
	}
	return check(msg)
}

func parseJSON(raw []byte, unwrap bool) (dsr.Message, error) {
	trimmed := strings.TrimSpace(string(raw))
	if unwrap && strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return dsr.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return parseJSON([]byte(inner), false)
	}
	var msg dsr.Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return dsr.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return check(msg)
}

func check(msg dsr.Message) (dsr.Message, error) {
	msg.ID = strings.TrimSpace(msg.ID)
	if msg.ID == "" {
		return dsr.Message{}, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	return msg, nil
}

func encodeMessage(msg dsr.Message) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(raw), nil
}
