// Package dashboardapi exposes a dashboard session over JSON and SSE.
package dashboardapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/gryph/internal/alerts"
	"github.com/linnemanlabs/gryph/internal/chat"
	"github.com/linnemanlabs/gryph/internal/dashboard"
	"github.com/linnemanlabs/gryph/internal/timeline"
	"github.com/linnemanlabs/gryph/internal/workflow"
)

// maxBody caps JSON request bodies.
const maxBody = 16 * 1024

// Session is the part of a dashboard session the handlers use.
type Session interface {
	Timeline() *timeline.Log
	Alerts() *alerts.Aggregator
	Chat() *chat.Pipeline
	Workflow() *workflow.Monitor
	Connect(ctx context.Context) error
	StreamStatus() dashboard.StreamStatus
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	session Session
}

// New creates a new API handler.
func New(logger log.Logger, session Session) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if session == nil {
		panic(xerrors.New("dashboard session is required"))
	}
	return &API{
		logger:  logger,
		session: session,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/timeline", a.handleTimeline)
		r.Get("/timeline/stream", a.handleTimelineStream)
		r.Post("/chat", a.handleChat)
		r.Get("/alerts", a.handleAlerts)
		r.Get("/stream", a.handleStreamStatus)
		r.Post("/stream/reconnect", a.handleReconnect)
		r.Get("/workflow", a.handleWorkflowState)
		r.Post("/workflow/trigger", a.handleWorkflowTrigger)
		r.Post("/workflow/check", a.handleWorkflowCheck)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}
