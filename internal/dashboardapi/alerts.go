package dashboardapi

import (
	"net/http"

	"github.com/linnemanlabs/gryph/internal/alerts"
)

type commitView struct {
	alerts.CommitSnapshot
	Headline string `json:"headline"`
}

func (a *API) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	agg := a.session.Alerts()

	var latest *commitView
	if c, ok := agg.Latest(); ok {
		latest = &commitView{CommitSnapshot: c, Headline: c.Headline()}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":        agg.Active(),
		"latest_commit": latest,
	})
}
