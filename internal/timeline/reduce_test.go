package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/gryph/internal/stream"
)

// seqMinter issues predictable ids and a fixed clock.
type seqMinter struct {
	n   int
	now time.Time
}

func (m *seqMinter) NewID() string {
	m.n++
	return fmt.Sprintf("e-%d", m.n)
}

func (m *seqMinter) Now() time.Time { return m.now }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestReduce_Mapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         Input
		wantOrigin Origin
		wantKind   Kind
		wantBody   string
	}{
		{"user message", UserSubmitted{Text: "hello"}, OriginUser, KindNormal, "hello"},
		{"chat answer", ChatAnswered{Text: "Hi!"}, OriginAssistant, KindNormal, "Hi!"},
		{"chat error", ChatAnswered{Text: "Error: timeout", IsError: true}, OriginAssistant, KindAlert, "Error: timeout"},
		{
			"commit",
			CommitArrived{Commit: stream.CommitEvent{Repo: "api-service", Pusher: "ada", Message: "rotate keys"}},
			OriginAssistant, KindCommitNotice, "New commit in api-service by ada: rotate keys",
		},
		{"alert", AlertArrived{Alert: stream.AlertEvent{Message: "Unusual commit time"}}, OriginAssistant, KindAlert, "Unusual commit time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := &seqMinter{now: testNow}
			got := Reduce(nil, tt.in, m)
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			e := got[0]
			if e.Origin != tt.wantOrigin {
				t.Errorf("origin = %q, want %q", e.Origin, tt.wantOrigin)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", e.Kind, tt.wantKind)
			}
			if e.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", e.Body, tt.wantBody)
			}
			if e.ID != "e-1" {
				t.Errorf("id = %q, want e-1", e.ID)
			}
			if !e.CreatedAt.Equal(testNow) {
				t.Errorf("created_at = %v, want %v", e.CreatedAt, testNow)
			}
		})
	}
}

func TestReduce_AppendsWithoutAliasing(t *testing.T) {
	t.Parallel()

	m := &seqMinter{now: testNow}
	base := make([]Entry, 0, 8)
	base = Reduce(base, UserSubmitted{Text: "one"}, m)

	a := Reduce(base, UserSubmitted{Text: "two"}, m)
	b := Reduce(base, UserSubmitted{Text: "three"}, m)

	if len(base) != 1 {
		t.Fatalf("base mutated: len = %d, want 1", len(base))
	}
	if a[1].Body != "two" {
		t.Errorf("a[1] = %q, want two (clobbered by sibling reduce)", a[1].Body)
	}
	if b[1].Body != "three" {
		t.Errorf("b[1] = %q, want three", b[1].Body)
	}
	if a[0] != base[0] || b[0] != base[0] {
		t.Error("existing entries changed during reduce")
	}
}

func TestReduce_OneEntryPerInput(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		UserSubmitted{Text: "hello"},
		CommitArrived{Commit: stream.CommitEvent{Repo: "r"}},
		AlertArrived{Alert: stream.AlertEvent{Message: "a"}},
		ChatAnswered{Text: "Hi!"},
		AlertArrived{Alert: stream.AlertEvent{Message: "b"}},
	}

	var entries []Entry
	m := &seqMinter{now: testNow}
	for i, in := range inputs {
		entries = Reduce(entries, in, m)
		if len(entries) != i+1 {
			t.Fatalf("after input %d len = %d, want %d", i, len(entries), i+1)
		}
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			t.Errorf("duplicate id %q", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestReduce_DefaultMinter(t *testing.T) {
	t.Parallel()

	got := Reduce(nil, UserSubmitted{Text: "x"}, nil)
	if got[0].ID == "" {
		t.Error("expected a minted id")
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestIsErrorText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"Error: timeout", true},
		{"Error:", true},
		{"error: lowercase", false},
		{" Error: leading space", false},
		{"No Error: here", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsErrorText(tt.in); got != tt.want {
			t.Errorf("IsErrorText(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
