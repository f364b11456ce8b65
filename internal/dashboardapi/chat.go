package dashboardapi

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/gryph/internal/chat"
	"github.com/linnemanlabs/gryph/internal/timeline"
)

type chatRequest struct {
	Message string `json:"message"`
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// the answer belongs to the shared timeline, so a client leaving early does not cancel it
	entry, err := a.session.Chat().Submit(context.WithoutCancel(r.Context()), req.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, "a chat request is already in flight")
		return
	case errors.Is(err, timeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "chat submit failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("gryph.chat.kind", string(entry.Kind)))

	writeJSON(w, http.StatusOK, entry)
}
