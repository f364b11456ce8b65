package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/gryph/internal/alerts"
	"github.com/linnemanlabs/gryph/internal/chat"
	"github.com/linnemanlabs/gryph/internal/stream"
	"github.com/linnemanlabs/gryph/internal/timeline"
	"github.com/linnemanlabs/gryph/internal/workflow"
)

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("dashboard: session closed")
	// ErrConnected is returned by Connect while a subscription is live.
	ErrConnected = errors.New("dashboard: event stream already connected")
)

// Notifier is told about every live security alert.
type Notifier interface {
	Send(ctx context.Context, alert alerts.SecurityAlert) error
}

// Options configures a Session. Chat and Workflow are required.
type Options struct {
	// EventsURL is the push endpoint. Empty disables Connect.
	EventsURL string
	// StreamClient is used for the push connection; nil uses http.DefaultClient.
	StreamClient *http.Client

	Chat              chat.Sender
	Workflow          workflow.Engine
	WorkflowNamespace string
	WorkflowFlowID    string

	// Notifier is optional.
	Notifier Notifier
	// InitialAlerts seed the aggregator.
	InitialAlerts []alerts.SecurityAlert

	Logger  log.Logger
	Metrics *Metrics
	Minter  timeline.Minter
}

// StreamStatus describes the current or most recent subscription.
type StreamStatus struct {
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	Endpoint   string `json:"endpoint,omitempty"`
	Connects   int    `json:"connects"`
	Delivered  int64  `json:"delivered"`
	Ignored    int64  `json:"ignored"`
	LastError  string `json:"last_error,omitempty"`
}

// Session wires the components of one dashboard together.
type Session struct {
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier

	eventsURL string
	dialer    stream.Dialer

	timeline *timeline.Log
	alerts   *alerts.Aggregator
	chat     *chat.Pipeline
	workflow *workflow.Monitor

	mu       sync.Mutex
	sub      *stream.Subscription
	connects int
	closed   bool

	notifyWG sync.WaitGroup
}

// New builds an unconnected session. Call Connect to start receiving events.
func New(opts Options) *Session {
	if opts.Chat == nil {
		panic(xerrors.New("chat sender is required"))
	}
	if opts.Workflow == nil {
		panic(xerrors.New("workflow engine is required"))
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	var (
		tlHooks   timeline.Hooks
		chatHooks chat.Hooks
		wfHooks   workflow.Hooks
		subHooks  stream.Hooks
	)
	if opts.Metrics != nil {
		tlHooks = opts.Metrics.TimelineHooks()
		chatHooks = opts.Metrics.ChatHooks()
		wfHooks = opts.Metrics.WorkflowHooks()
		subHooks = opts.Metrics.StreamHooks()
	}

	s := &Session{
		logger:    logger,
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
		eventsURL: opts.EventsURL,
		dialer: stream.Dialer{
			Client: opts.StreamClient,
			Logger: logger.With("component", "stream"),
			Hooks:  subHooks,
		},
		timeline: timeline.NewLog(opts.Minter, tlHooks),
		alerts:   alerts.New(opts.InitialAlerts...),
	}
	s.chat = chat.NewPipeline(opts.Chat, s.timeline, logger.With("component", "chat"), chatHooks)
	s.workflow = workflow.NewMonitor(opts.Workflow, opts.WorkflowNamespace, opts.WorkflowFlowID,
		logger.With("component", "workflow"), wfHooks)

	if s.metrics != nil {
		s.metrics.ActiveAlerts.Set(float64(len(opts.InitialAlerts)))
	}

	return s
}

// Timeline returns the session's conversation log.
func (s *Session) Timeline() *timeline.Log { return s.timeline }

// Alerts returns the session's alert aggregator.
func (s *Session) Alerts() *alerts.Aggregator { return s.alerts }

// Chat returns the session's chat pipeline.
func (s *Session) Chat() *chat.Pipeline { return s.chat }

// Workflow returns the session's workflow monitor.
func (s *Session) Workflow() *workflow.Monitor { return s.workflow }

// Connect opens the event stream. It is also the manual reconnect: a
// subscription that has terminated is replaced, a live one yields
// ErrConnected. The subscription outlives ctx's cancellation and ends only on
// Close or a stream fault; ctx values such as the logger are kept.
func (s *Session) Connect(ctx context.Context) error {
	if s.eventsURL == "" {
		return errors.New("dashboard: no events url configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.sub != nil && !isDone(s.sub) {
		return ErrConnected
	}

	sub, err := s.dialer.Open(context.WithoutCancel(ctx), s.eventsURL, stream.ConsumerFunc(s.onEvent))
	s.connects++
	if err != nil {
		s.observeConnect("error")
		s.logger.Error(ctx, err, "event stream connect failed", "endpoint", s.eventsURL)
		return err
	}
	s.observeConnect("success")
	s.logger.Info(ctx, "event stream connected", "endpoint", s.eventsURL, "attempt", s.connects)

	s.sub = sub
	return nil
}

// StreamStatus reports on the current or most recent subscription.
func (s *Session) StreamStatus() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StreamStatus{
		Configured: s.eventsURL != "",
		Endpoint:   s.eventsURL,
		Connects:   s.connects,
	}
	if s.sub == nil {
		return st
	}
	st.Endpoint = s.sub.Endpoint()
	st.Connected = !isDone(s.sub)
	st.Delivered = s.sub.Delivered()
	st.Ignored = s.sub.Ignored()
	if err := s.sub.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Close releases the subscription, waits for it to stop, then closes the
// timeline and waits for pending notifications. In-flight chat and workflow
// calls are not interrupted; their answers are discarded. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.timeline.Close()
	s.notifyWG.Wait()
}

// onEvent runs on the subscription's reader goroutine, one event at a time.
func (s *Session) onEvent(ctx context.Context, ev stream.Event) {
	if s.metrics != nil {
		s.metrics.StreamEventsTotal.WithLabelValues(string(ev.Type())).Inc()
	}

	switch e := ev.(type) {
	case stream.CommitEvent:
		s.alerts.OnCommit(e)
		s.apply(ctx, timeline.CommitArrived{Commit: e})

	case stream.AlertEvent:
		al := s.alerts.OnAlert(e)
		if s.metrics != nil {
			s.metrics.ActiveAlerts.Inc()
		}
		s.apply(ctx, timeline.AlertArrived{Alert: e})
		s.notify(ctx, al)
	}
}

func (s *Session) apply(ctx context.Context, in timeline.Input) {
	if _, err := s.timeline.Apply(in); err != nil && !errors.Is(err, timeline.ErrClosed) {
		s.logger.Error(ctx, err, "timeline append failed")
	}
}

// notify delivers al without blocking the event stream.
func (s *Session) notify(ctx context.Context, al alerts.SecurityAlert) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()

		outcome := "success"
		if err := s.notifier.Send(ctx, al); err != nil {
			outcome = "error"
			s.logger.Error(ctx, err, "alert notification failed", "alert_id", al.ID)
		}
		if s.metrics != nil {
			s.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
		}
	}()
}

func (s *Session) observeConnect(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.StreamConnectsTotal.WithLabelValues(outcome).Inc()
}

func isDone(sub *stream.Subscription) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}
