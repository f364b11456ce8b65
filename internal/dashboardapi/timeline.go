package dashboardapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// keepAlive is how often an idle timeline stream gets a comment line.
const keepAlive = 25 * time.Second

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entries := a.session.Timeline().Entries()

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("gryph.timeline.entries", len(entries)))

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"busy":    a.session.Chat().Busy(),
	})
}

// handleTimelineStream replays the current timeline and then pushes every
// appended entry as an "entry" event until the client leaves or the log closes.
func (a *API) handleTimelineStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snapshot, updates, cancel := a.session.Timeline().Subscribe()
	defer cancel()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	for _, e := range snapshot {
		sseWrite(w, "entry", e)
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-updates:
			if !ok {
				// log closed or this client fell too far behind
				return
			}
			sseWrite(w, "entry", e)
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(fmt.Sprintf("%q", fmt.Sprint(data)))
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}
