package alerts

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/gryph/internal/stream"
)

// Aggregator owns the active alert list and the latest commit slot.
type Aggregator struct {
	now   func() time.Time
	newID func() string

	mu     sync.RWMutex
	active []SecurityAlert // newest first
	latest *CommitSnapshot
}

// New creates an Aggregator whose active list starts as initial, in the order
// given. Live alerts are prepended ahead of them.
func New(initial ...SecurityAlert) *Aggregator {
	a := &Aggregator{
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
	a.active = append(a.active, initial...)
	return a
}

// OnAlert records a live alert. Live detections are always high severity; there
// is no dedup, cap or expiry.
func (a *Aggregator) OnAlert(ev stream.AlertEvent) SecurityAlert {
	al := SecurityAlert{
		ID:          a.newID(),
		Title:       LiveAlertTitle,
		Description: ev.Message,
		Severity:    SeverityHigh,
		DetectedAt:  a.now(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := make([]SecurityAlert, 0, len(a.active)+1)
	next = append(next, al)
	a.active = append(next, a.active...)

	return al
}

// OnCommit overwrites the latest commit slot, flagged or not.
func (a *Aggregator) OnCommit(ev stream.CommitEvent) CommitSnapshot {
	snap := snapshotOf(ev)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = &snap

	return snap
}

// Active returns the active alerts, newest first.
func (a *Aggregator) Active() []SecurityAlert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]SecurityAlert, len(a.active))
	copy(out, a.active)
	return out
}

// Latest returns the latest commit, if any has arrived.
func (a *Aggregator) Latest() (CommitSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return CommitSnapshot{}, false
	}
	return *a.latest, true
}

// snapshotOf is a pure function of the event, so repeated events give identical snapshots.
func snapshotOf(ev stream.CommitEvent) CommitSnapshot {
	return CommitSnapshot{
		Repository:        ev.Repo,
		Author:            ev.Pusher,
		Message:           ev.Message,
		Timestamp:         ev.Timestamp,
		OccurredAt:        parseTimestamp(ev.Timestamp),
		FlaggedUnusual:    ev.IsUnusual,
		FlaggedVulnerable: ev.IsVulnerable,
	}
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds; anything else is zero.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
