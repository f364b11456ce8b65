package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/gryph/internal/timeline"
)

// FallbackText replaces the answer when the chat backend cannot be reached.
const FallbackText = "Sorry, I encountered an error. Please check your network connection and try again."

var (
	// ErrEmptyMessage rejects input that is blank after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrBusy rejects a submission while another is in flight.
	ErrBusy = errors.New("chat: a request is already in flight")
)

// Sender is the chat backend contract.
type Sender interface {
	Send(ctx context.Context, message string) (Reply, error)
}

// Appender is the part of the timeline the pipeline writes to.
type Appender interface {
	Apply(in timeline.Input) (timeline.Entry, error)
}

// Hooks are optional instrumentation callbacks. Nil fields are skipped.
type Hooks struct {
	// OnSubmit fires once per Submit call with one of
	// "answered", "fault", "fallback", "busy", "empty", "discarded".
	OnSubmit func(result string)
}

// Pipeline admits one submission at a time and records both sides of the exchange.
type Pipeline struct {
	sender Sender
	log    Appender
	logger log.Logger
	hooks  Hooks

	busy atomic.Bool
}

// NewPipeline wires a sender to a timeline.
func NewPipeline(sender Sender, tl Appender, logger log.Logger, hooks Hooks) *Pipeline {
	if sender == nil {
		panic(xerrors.New("chat sender is required"))
	}
	if tl == nil {
		panic(xerrors.New("timeline is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		sender: sender,
		log:    tl,
		logger: logger,
		hooks:  hooks,
	}
}

// Busy reports whether a submission is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Submit records text as a user turn, asks the backend, and records the answer.
// It returns the answer entry. Backend failures never surface as errors: they
// produce an alert entry instead. The only errors are ErrEmptyMessage and
// ErrBusy, which leave the timeline untouched, and timeline.ErrClosed when the
// owning session went away mid-call, in which case the answer is discarded.
func (p *Pipeline) Submit(ctx context.Context, text string) (timeline.Entry, error) {
	if strings.TrimSpace(text) == "" {
		p.observe("empty")
		return timeline.Entry{}, ErrEmptyMessage
	}
	if !p.busy.CompareAndSwap(false, true) {
		p.observe("busy")
		return timeline.Entry{}, ErrBusy
	}
	defer p.busy.Store(false)

	if _, err := p.log.Apply(timeline.UserSubmitted{Text: text}); err != nil {
		p.observe("discarded")
		return timeline.Entry{}, err
	}

	answer, result := p.ask(ctx, text)

	e, err := p.log.Apply(answer)
	if err != nil {
		p.logger.Warn(ctx, "chat answer discarded", "reason", err.Error())
		p.observe("discarded")
		return timeline.Entry{}, err
	}

	p.observe(result)
	return e, nil
}

func (p *Pipeline) ask(ctx context.Context, text string) (timeline.ChatAnswered, string) {
	reply, err := p.sender.Send(ctx, text)
	if err != nil {
		p.logger.Error(ctx, err, "chat request failed")
		return timeline.ChatAnswered{Text: FallbackText, IsError: true}, "fallback"
	}
	if reply.Fault {
		return timeline.ChatAnswered{Text: reply.Text, IsError: true}, "fault"
	}
	return timeline.ChatAnswered{Text: reply.Text}, "answered"
}

func (p *Pipeline) observe(result string) {
	if p.hooks.OnSubmit != nil {
		p.hooks.OnSubmit(result)
	}
}
