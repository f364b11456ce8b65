// Package stream consumes the monitoring backend's server-push event feed.
// Frames are Server-Sent Events carrying a JSON envelope discriminated by
// "type"; commit and alert envelopes decode to typed events, anything else
// is dropped so newer backends can add event types without breaking us.
package stream

import (
	"encoding/json"
	"fmt"
)

// Type is the envelope discriminator.
type Type string

const (
	TypeCommit Type = "commit"
	TypeAlert  Type = "alert"
)

// Event is a decoded inbound frame. It is implemented only by CommitEvent and AlertEvent.
type Event interface {
	Type() Type
}

// CommitEvent reports a push to a monitored repository.
type CommitEvent struct {
	Repo         string `json:"repo"`
	Pusher       string `json:"pusher"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	IsUnusual    bool   `json:"isUnusual,omitempty"`
	IsVulnerable bool   `json:"isVulnerable,omitempty"`
}

// Type implements Event.
func (CommitEvent) Type() Type { return TypeCommit }

// AlertEvent reports a live detection from the backend.
type AlertEvent struct {
	Message string `json:"message"`
}

// Type implements Event.
func (AlertEvent) Type() Type { return TypeAlert }

// DecodeError is returned when a frame is not a valid envelope.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", truncate(e.Frame, 128), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a single frame payload. Unknown discriminators, including a
// missing one, yield (nil, nil).
func Decode(frame []byte) (Event, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Frame: string(frame), Err: err}
	}

	switch env.Type {
	case TypeCommit:
		var ev CommitEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			return nil, &DecodeError{Frame: string(frame), Err: err}
		}
		return ev, nil
	case TypeAlert:
		var ev AlertEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			return nil, &DecodeError{Frame: string(frame), Err: err}
		}
		return ev, nil
	default:
		return nil, nil
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
