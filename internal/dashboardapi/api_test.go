package dashboardapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/gryph/internal/alerts"
	"github.com/linnemanlabs/gryph/internal/chat"
	"github.com/linnemanlabs/gryph/internal/dashboard"
	"github.com/linnemanlabs/gryph/internal/stream"
	"github.com/linnemanlabs/gryph/internal/timeline"
	"github.com/linnemanlabs/gryph/internal/workflow"
)

// blockingChat answers "pong" once release is closed. A nil release answers at once.
type blockingChat struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingChat) Send(ctx context.Context, _ string) (chat.Reply, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return chat.Reply{}, ctx.Err()
		}
	}
	return chat.Reply{Text: "pong"}, nil
}

// fakeEngine answers after delay, or fails early if ctx ends first.
type fakeEngine struct {
	triggerErr error
	delay      time.Duration
}

func (e *fakeEngine) wait(ctx context.Context) error {
	if e.delay == 0 {
		return nil
	}
	select {
	case <-time.After(e.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEngine) Trigger(ctx context.Context, _, _ string, _ map[string]string) (*workflow.Execution, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	if e.triggerErr != nil {
		return nil, e.triggerErr
	}
	return &workflow.Execution{ID: "exec-42"}, nil
}

func (e *fakeEngine) Status(ctx context.Context, id string) (*workflow.Execution, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return &workflow.Execution{ID: id, State: "SUCCESS", TaskRunList: []workflow.TaskRun{
		{TaskID: "hello_world", Outputs: map[string]any{"message": "Hello, Ada!"}},
	}}, nil
}

type fixture struct {
	router  chi.Router
	session *dashboard.Session
	chat    *blockingChat
	engine  *fakeEngine
}

func newFixture(t *testing.T, eventsURL string) *fixture {
	t.Helper()
	f := &fixture{chat: &blockingChat{}, engine: &fakeEngine{}}
	f.session = dashboard.New(dashboard.Options{
		EventsURL: eventsURL,
		Chat:      f.chat,
		Workflow:  f.engine,
		Logger:    log.Nop(),
	})
	t.Cleanup(f.session.Close)

	f.router = chi.NewRouter()
	New(nil, f.session).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	api := New(nil, f.session)
	if api.logger == nil {
		t.Fatal("New(nil, session) left logger nil; expected Nop logger")
	}
}

func TestNew_NilSession_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic")
		}
	}()
	New(nil, nil)
}

// Timeline and chat

func TestChat_AnswerAppendsToTimeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"ping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body)
	}
	var entry timeline.Entry
	decode(t, rec, &entry)
	if entry.Origin != timeline.OriginAssistant || entry.Body != "pong" || entry.Kind != timeline.KindNormal {
		t.Errorf("entry = %+v", entry)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/timeline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}
	var got struct {
		Entries []timeline.Entry `json:"entries"`
		Busy    bool             `json:"busy"`
	}
	decode(t, rec, &got)
	if got.Busy {
		t.Error("busy = true after the answer arrived")
	}
	if len(got.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(got.Entries))
	}
	if got.Entries[0].Origin != timeline.OriginUser || got.Entries[0].Body != "ping" {
		t.Errorf("entries[0] = %+v", got.Entries[0])
	}
}

func TestChat_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank message", `{"message":"   "}`, http.StatusBadRequest},
		{"missing message", `{}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"invalid json", `{nope`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, "")
			rec := f.do(t, http.MethodPost, "/api/v1/chat", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if n := f.session.Timeline().Len(); n != 0 {
				t.Errorf("timeline len = %d, want 0", n)
			}
		})
	}
}

func TestChat_BusyIsConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.chat.entered = make(chan struct{}, 1)
	f.chat.release = make(chan struct{})

	done := make(chan int, 1)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"first"}`).Code
	}()
	<-f.chat.entered

	rec := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"second"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second submit status = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/timeline", "")
	var tl struct {
		Busy bool `json:"busy"`
	}
	decode(t, rec, &tl)
	if !tl.Busy {
		t.Error("timeline busy = false while a submission is in flight")
	}

	close(f.chat.release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first submit status = %d, want 200", code)
	}
	if n := f.session.Timeline().Len(); n != 2 {
		t.Errorf("timeline len = %d, want 2", n)
	}
}

func TestTimelineStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	if _, err := f.session.Timeline().Apply(timeline.UserSubmitted{Text: "before"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/timeline/stream", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := make(chan timeline.Entry, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		event := ""
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "entry":
				var e timeline.Entry
				if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e) == nil {
					events <- e
				}
			}
		}
	}()

	next := func() timeline.Entry {
		t.Helper()
		select {
		case e := <-events:
			return e
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for entry event")
			return timeline.Entry{}
		}
	}

	if e := next(); e.Body != "before" {
		t.Errorf("replayed entry = %+v", e)
	}

	if _, err := f.session.Timeline().Apply(timeline.AlertArrived{Alert: stream.AlertEvent{Message: "after"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if e := next(); e.Body != "after" || e.Kind != timeline.KindAlert {
		t.Errorf("live entry = %+v", e)
	}
}

// Alerts

func TestAlerts(t *testing.T) {
	t.Parallel()

	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"commit\",\"repo\":\"acme/api\",\"pusher\":\"dana\",\"message\":\"m\",\"timestamp\":\"2024-05-01T10:00:00Z\",\"isVulnerable\":true}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"alert\",\"message\":\"Secrets committed\"}\n\n")
	}))
	t.Cleanup(events.Close)

	f := newFixture(t, events.URL)

	rec := f.do(t, http.MethodGet, "/api/v1/alerts", "")
	var empty map[string]any
	decode(t, rec, &empty)
	if empty["latest_commit"] != nil {
		t.Errorf("latest_commit = %v before any commit, want null", empty["latest_commit"])
	}

	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(f.session.Alerts().Active()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("alert never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	var got struct {
		Active []alerts.SecurityAlert `json:"active"`
		Latest *struct {
			Repository        string `json:"repository"`
			FlaggedVulnerable bool   `json:"flagged_vulnerable"`
			Headline          string `json:"headline"`
		} `json:"latest_commit"`
	}
	decode(t, rec, &got)

	if len(got.Active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(got.Active))
	}
	if got.Active[0].Title != alerts.LiveAlertTitle || got.Active[0].Description != "Secrets committed" {
		t.Errorf("active[0] = %+v", got.Active[0])
	}
	if got.Active[0].Severity != alerts.SeverityHigh {
		t.Errorf("severity = %v, want high", got.Active[0].Severity)
	}
	if got.Latest == nil || got.Latest.Repository != "acme/api" || !got.Latest.FlaggedVulnerable {
		t.Fatalf("latest_commit = %+v", got.Latest)
	}
	if got.Latest.Headline != "Vulnerable Commit Detected" {
		t.Errorf("headline = %q", got.Latest.Headline)
	}
}

// Stream status and reconnect

func TestStream_ReconnectLifecycle(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(events.Close)
	t.Cleanup(func() { close(release) })

	f := newFixture(t, events.URL)

	rec := f.do(t, http.MethodGet, "/api/v1/stream", "")
	var st dashboard.StreamStatus
	decode(t, rec, &st)
	if !st.Configured || st.Connected || st.Connects != 0 {
		t.Errorf("initial status = %+v", st)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/stream/reconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconnect status = %d; body=%s", rec.Code, rec.Body)
	}
	decode(t, rec, &st)
	if !st.Connected || st.Connects != 1 {
		t.Errorf("after reconnect = %+v", st)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/stream/reconnect", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("reconnect while live = %d, want 409", rec.Code)
	}
}

func TestStream_ReconnectFailure(t *testing.T) {
	t.Parallel()

	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(events.Close)

	f := newFixture(t, events.URL)
	rec := f.do(t, http.MethodPost, "/api/v1/stream/reconnect", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestStream_ReconnectAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "http://127.0.0.1:1/events")
	f.session.Close()

	rec := f.do(t, http.MethodPost, "/api/v1/stream/reconnect", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// Workflow

func TestWorkflow_TriggerAndCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/workflow", "")
	var st workflow.State
	decode(t, rec, &st)
	if st.Phase != workflow.PhaseIdle {
		t.Errorf("initial phase = %q", st.Phase)
	}

	// checking before any trigger is a no-op
	rec = f.do(t, http.MethodPost, "/api/v1/workflow/check", "")
	decode(t, rec, &st)
	if st.Phase != workflow.PhaseIdle {
		t.Errorf("phase after early check = %q", st.Phase)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/workflow/trigger", `{"user":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger status = %d", rec.Code)
	}
	decode(t, rec, &st)
	if st.Phase != workflow.PhaseTriggered || st.ExecutionID != "exec-42" {
		t.Errorf("after trigger = %+v", st)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/workflow/check", "")
	decode(t, rec, &st)
	if st.Phase != workflow.PhaseSucceeded || st.ExtractedOutput != "Hello, Ada!" {
		t.Errorf("after check = %+v", st)
	}
}

func TestWorkflow_TriggerFaultReportedInState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.engine.triggerErr = &workflow.HTTPError{StatusCode: 404, Message: "Flow not found"}

	rec := f.do(t, http.MethodPost, "/api/v1/workflow/trigger", `{"user":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st workflow.State
	decode(t, rec, &st)
	if st.Phase != workflow.PhaseIdle {
		t.Errorf("phase = %q, want idle", st.Phase)
	}
	if want := "Failed to trigger workflow. Status: 404. Message: Flow not found"; st.LastError != want {
		t.Errorf("last_error = %q, want %q", st.LastError, want)
	}
}

func TestWorkflow_ClientLeavingDoesNotAbortEngineCalls(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.engine.delay = 100 * time.Millisecond

	send := func(path, body string) workflow.State {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)).WithContext(ctx)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		var st workflow.State
		decode(t, rec, &st)
		return st
	}

	st := send("/api/v1/workflow/trigger", `{"user":"Ada"}`)
	if st.Phase != workflow.PhaseTriggered || st.ExecutionID != "exec-42" || st.LastError != "" {
		t.Fatalf("after trigger = %+v", st)
	}

	st = send("/api/v1/workflow/check", "")
	if st.Phase != workflow.PhaseSucceeded || st.ExtractedOutput != "Hello, Ada!" {
		t.Errorf("after check = %+v", st)
	}
}

func TestWorkflow_TriggerBadPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v1/workflow/trigger", `[1,2`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// Routing

func TestRegisterRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/chat"},
		{http.MethodDelete, "/api/v1/timeline"},
		{http.MethodGet, "/api/v1/workflow/trigger"},
		{http.MethodGet, "/api/v1/stream/reconnect"},
	}
	for _, tt := range tests {
		rec := f.do(t, tt.method, tt.path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}

func TestChat_AfterSessionClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.session.Close()

	rec := f.do(t, http.MethodPost, "/api/v1/chat", `{"message":"late"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
