package dashboardapi

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type triggerRequest struct {
	User string `json:"user"`
}

func (a *API) handleWorkflowState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Workflow().State())
}

// handleWorkflowTrigger answers 200 even when the engine rejected the
// trigger; the fault is reported in last_error.
func (a *API) handleWorkflowTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// the monitor is shared; an execution the engine accepted must still be tracked if the client leaves
	st := a.session.Workflow().Trigger(context.WithoutCancel(r.Context()), req.User)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("gryph.workflow.phase", string(st.Phase)),
		attribute.String("gryph.workflow.execution_id", st.ExecutionID),
	)

	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleWorkflowCheck(w http.ResponseWriter, r *http.Request) {
	st := a.session.Workflow().CheckStatus(context.WithoutCancel(r.Context()))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("gryph.workflow.phase", string(st.Phase)))

	writeJSON(w, http.StatusOK, st)
}
