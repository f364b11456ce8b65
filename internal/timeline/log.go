package timeline

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Apply once the owning session has gone away.
var ErrClosed = errors.New("timeline: log closed")

// subscriberBuffer is how many entries a subscriber may fall behind before it is dropped.
const subscriberBuffer = 64

// Hooks are optional callbacks invoked under the log's lock. Nil fields are skipped.
type Hooks struct {
	OnAppend func(e Entry)
}

// Log is the single owner of a timeline. Appends are serialized; reads return copies.
type Log struct {
	mint  Minter
	hooks Hooks

	mu      sync.RWMutex
	entries []Entry
	subs    map[int]chan Entry
	nextSub int
	closed  bool
}

// NewLog creates an empty log. A nil minter uses DefaultMinter.
func NewLog(mint Minter, hooks Hooks) *Log {
	if mint == nil {
		mint = DefaultMinter
	}
	return &Log{
		mint:  mint,
		hooks: hooks,
		subs:  make(map[int]chan Entry),
	}
}

// Apply folds one input into the log and returns the appended entry.
func (l *Log) Apply(in Input) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}

	l.entries = Reduce(l.entries, in, l.mint)
	e := l.entries[len(l.entries)-1]

	if l.hooks.OnAppend != nil {
		l.hooks.OnAppend(e)
	}

	for id, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// subscriber fell too far behind
			close(ch)
			delete(l.subs, id)
		}
	}

	return e, nil
}

// Entries returns a copy of the log in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a snapshot of the current entries together with a channel
// that receives every entry appended afterwards, with nothing missed or
// repeated between the two. The channel is closed when cancel is called, when
// the log closes, or when the subscriber stops keeping up.
func (l *Log) Subscribe() (snapshot []Entry, updates <-chan Entry, cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot = make([]Entry, len(l.entries))
	copy(snapshot, l.entries)

	ch := make(chan Entry, subscriberBuffer)
	if l.closed {
		close(ch)
		return snapshot, ch, func() {}
	}

	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				close(c)
				delete(l.subs, id)
			}
		})
	}
	return snapshot, ch, cancel
}

// Close stops further appends and ends all subscriptions. Entries remain readable.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
}
