// Package timeline owns the dashboard's single ordered message log. Chat
// turns and stream events are folded into it through a pure reducer; the Log
// type serializes appends so the insertion order is the only order that
// matters to readers.
package timeline

import (
	"strings"
	"time"
)

// Origin identifies who produced an entry.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Kind classifies an entry for presentation.
type Kind string

const (
	KindNormal       Kind = "normal"
	KindAlert        Kind = "alert"
	KindCommitNotice Kind = "commit"
)

// Entry is one immutable timeline item.
type Entry struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Kind      Kind      `json:"kind"`
}

// ErrorPrefix marks an upstream chat response as a failure.
const ErrorPrefix = "Error:"

// IsErrorText reports whether a chat response carries the error marker.
func IsErrorText(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}
