// Package alerts derives the alert panel state from the event stream: the
// active alert list (newest first) and the latest commit snapshot.
package alerts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity ranks a security alert.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase wire name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity accepts low, medium or high in any case.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LiveAlertTitle is the title given to every alert received from the stream.
const LiveAlertTitle = "Unusual Commit Detected"

// SecurityAlert is an entry in the active alert list. Values are never mutated after creation.
type SecurityAlert struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	DetectedAt  time.Time `json:"detected_at"`
}

// CommitSnapshot is the most recent commit seen on the stream.
type CommitSnapshot struct {
	Repository        string    `json:"repository"`
	Author            string    `json:"author"`
	Message           string    `json:"message"`
	Timestamp         string    `json:"timestamp"`
	OccurredAt        time.Time `json:"occurred_at"`
	FlaggedUnusual    bool      `json:"flagged_unusual"`
	FlaggedVulnerable bool      `json:"flagged_vulnerable"`
}

// Flagged reports whether the commit is a security condition.
func (c CommitSnapshot) Flagged() bool {
	return c.FlaggedUnusual || c.FlaggedVulnerable
}

// Headline is the panel heading for the snapshot. Vulnerability outranks unusual timing.
func (c CommitSnapshot) Headline() string {
	switch {
	case c.FlaggedVulnerable:
		return "Vulnerable Commit Detected"
	case c.FlaggedUnusual:
		return "Unusual Commit Detected"
	default:
		return "Latest Commit"
	}
}
