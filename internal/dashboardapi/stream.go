package dashboardapi

import (
	"errors"
	"net/http"

	"github.com/linnemanlabs/gryph/internal/dashboard"
)

func (a *API) handleStreamStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.StreamStatus())
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	err := a.session.Connect(r.Context())
	switch {
	case errors.Is(err, dashboard.ErrConnected):
		writeError(w, http.StatusConflict, "event stream already connected")
		return
	case errors.Is(err, dashboard.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"stream": a.session.StreamStatus(),
		})
		return
	}
	writeJSON(w, http.StatusOK, a.session.StreamStatus())
}
