package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/linnemanlabs/go-core/log"
)

// ErrStreamEnded is reported when the backend closes the stream.
var ErrStreamEnded = errors.New("event stream ended by server")

// Consumer receives decoded events in arrival order, one call at a time.
// OnEvent must not call Close on the subscription that delivered the event.
type Consumer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ConsumerFunc adapts a plain function to Consumer.
type ConsumerFunc func(ctx context.Context, ev Event)

// OnEvent implements Consumer.
func (f ConsumerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Hooks are optional callbacks for instrumentation. Nil fields are skipped.
type Hooks struct {
	// OnOpen fires once a connection is established, before any event.
	OnOpen func()
	// OnIgnored fires for every frame with an unknown discriminator.
	OnIgnored func()
	// OnTerminate fires once when the reader exits; err is nil after Close.
	OnTerminate func(err error)
}

// Dialer opens subscriptions. The zero value is usable.
type Dialer struct {
	Client *http.Client
	Logger log.Logger
	Hooks  Hooks
}

// Open connects to endpoint with the zero Dialer.
func Open(ctx context.Context, endpoint string, consumer Consumer) (*Subscription, error) {
	var d Dialer
	return d.Open(ctx, endpoint, consumer)
}

// Open connects to endpoint and starts delivering events to consumer. The
// subscription lives until ctx is cancelled, Close is called, or the stream
// faults; it is never restarted. Connect failures and non-2xx responses are
// returned here and nothing is left running.
func (d *Dialer) Open(ctx context.Context, endpoint string, consumer Consumer) (*Subscription, error) {
	if consumer == nil {
		return nil, errors.New("stream: consumer is required")
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Nop()
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream: server returned %d: %s", resp.StatusCode, string(body))
	}

	s := &Subscription{
		endpoint: endpoint,
		cancel:   cancel,
		body:     resp.Body,
		done:     make(chan struct{}),
		logger:   logger.With("endpoint", endpoint),
		hooks:    d.Hooks,
	}
	if d.Hooks.OnOpen != nil {
		d.Hooks.OnOpen()
	}
	go s.run(ctx, consumer)

	return s, nil
}

// Subscription is a live connection to the event stream.
type Subscription struct {
	endpoint string
	cancel   context.CancelFunc
	body     io.ReadCloser
	done     chan struct{}
	logger   log.Logger
	hooks    Hooks

	closeOnce sync.Once
	closing   atomic.Bool
	delivered atomic.Int64
	ignored   atomic.Int64

	mu  sync.Mutex
	err error
}

// Close releases the connection and waits for the reader to exit. It is safe
// to call more than once and from multiple goroutines.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		_ = s.body.Close()
	})
	<-s.done
}

// Done is closed once the subscription has terminated for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription terminated. It is nil while running and
// after an owner-initiated Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Endpoint returns the URL the subscription is connected to.
func (s *Subscription) Endpoint() string { return s.endpoint }

// Delivered returns the number of events handed to the consumer.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Ignored returns the number of frames dropped for an unknown type.
func (s *Subscription) Ignored() int64 { return s.ignored.Load() }

func (s *Subscription) run(ctx context.Context, consumer Consumer) {
	var termErr error
	defer func() {
		_ = s.body.Close()
		s.cancel()

		s.mu.Lock()
		s.err = termErr
		s.mu.Unlock()

		if s.hooks.OnTerminate != nil {
			s.hooks.OnTerminate(termErr)
		}
		close(s.done)
	}()

	fr := newFrameReader(s.body)
	for {
		frame, err := fr.Next()
		if err != nil {
			termErr = s.readErr(ctx, err)
			if termErr != nil {
				s.logger.Error(ctx, termErr, "event stream terminated")
			}
			return
		}

		ev, err := Decode(frame)
		if err != nil {
			termErr = err
			s.logger.Error(ctx, err, "event stream terminated on undecodable frame")
			return
		}
		if ev == nil {
			s.ignored.Add(1)
			if s.hooks.OnIgnored != nil {
				s.hooks.OnIgnored()
			}
			continue
		}

		s.delivered.Add(1)
		consumer.OnEvent(ctx, ev)
	}
}

// readErr classifies a reader failure. Owner-initiated closes are not errors.
func (s *Subscription) readErr(ctx context.Context, err error) error {
	if s.closing.Load() {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return ErrStreamEnded
	}
	return fmt.Errorf("stream: read: %w", err)
}
