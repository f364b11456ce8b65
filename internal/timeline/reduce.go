package timeline

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/gryph/internal/stream"
)

// Input is one reducer input. It is implemented only by the types below.
type Input interface {
	input()
}

// UserSubmitted is a chat message typed by the user.
type UserSubmitted struct {
	Text string
}

// ChatAnswered is the chat backend's reply, or its substitute on failure.
type ChatAnswered struct {
	Text    string
	IsError bool
}

// CommitArrived is a commit event from the stream.
type CommitArrived struct {
	Commit stream.CommitEvent
}

// AlertArrived is an alert event from the stream.
type AlertArrived struct {
	Alert stream.AlertEvent
}

func (UserSubmitted) input() {}
func (ChatAnswered) input()  {}
func (CommitArrived) input() {}
func (AlertArrived) input()  {}

// Minter supplies identity and time for new entries.
type Minter interface {
	NewID() string
	Now() time.Time
}

type ulidMinter struct{}

func (ulidMinter) NewID() string  { return ulid.Make().String() }
func (ulidMinter) Now() time.Time { return time.Now() }

// DefaultMinter issues ULIDs stamped with the wall clock.
var DefaultMinter Minter = ulidMinter{}

// Reduce returns entries with exactly one new entry appended for in. The
// input slice is never modified and the result never shares its backing
// array, so earlier snapshots stay valid.
func Reduce(entries []Entry, in Input, mint Minter) []Entry {
	if mint == nil {
		mint = DefaultMinter
	}
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, entryFor(in, mint))
}

// entryFor maps an input to its entry. Unknown inputs cannot be constructed
// outside this package, so the default case is unreachable.
func entryFor(in Input, mint Minter) Entry {
	e := Entry{
		ID:        mint.NewID(),
		Origin:    OriginAssistant,
		CreatedAt: mint.Now(),
		Kind:      KindNormal,
	}

	switch v := in.(type) {
	case UserSubmitted:
		e.Origin = OriginUser
		e.Body = v.Text
	case ChatAnswered:
		e.Body = v.Text
		if v.IsError {
			e.Kind = KindAlert
		}
	case CommitArrived:
		e.Kind = KindCommitNotice
		e.Body = fmt.Sprintf("New commit in %s by %s: %s", v.Commit.Repo, v.Commit.Pusher, v.Commit.Message)
	case AlertArrived:
		e.Kind = KindAlert
		e.Body = v.Alert.Message
	default:
		panic(fmt.Sprintf("timeline: unhandled input %T", in))
	}

	return e
}
