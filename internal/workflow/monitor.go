package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/gryph/internal/workflow")

const (
	DefaultNamespace = "tutorial"
	DefaultFlowID    = "hello-world"

	// UserInput is the single flow input the monitor sends.
	UserInput = "user"
	// OutputTaskID and OutputKey locate the value extracted on success.
	OutputTaskID = "hello_world"
	OutputKey    = "message"

	StateSuccess = "SUCCESS"
	StateFailed  = "FAILED"
	StateKilled  = "KILLED"
)

// Phase is the monitor's position in its lifecycle.
type Phase string

const (
	// PhaseIdle means no execution has been started
	PhaseIdle Phase = "idle"

	// PhaseTriggered means an execution was started and not yet checked
	PhaseTriggered Phase = "triggered"

	// PhasePolling means the last check saw a non-terminal state
	PhasePolling Phase = "polling"

	// PhaseSucceeded means the execution reported SUCCESS
	PhaseSucceeded Phase = "succeeded"

	// PhaseFailed means the execution reported FAILED or KILLED
	PhaseFailed Phase = "failed"
)

// Terminal reports whether status checks are finished for this phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// State is a snapshot of the monitor. Empty strings mean "not known".
type State struct {
	Phase           Phase  `json:"phase"`
	ExecutionID     string `json:"execution_id,omitempty"`
	LastKnownStatus string `json:"last_known_status,omitempty"`
	ExtractedOutput string `json:"extracted_output,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Engine is the workflow API contract.
type Engine interface {
	Trigger(ctx context.Context, namespace, flowID string, inputs map[string]string) (*Execution, error)
	Status(ctx context.Context, id string) (*Execution, error)
}

// Hooks are optional instrumentation callbacks. Nil fields are skipped.
type Hooks struct {
	// OnCall fires after every engine call. op is "trigger" or "status",
	// outcome is "success" or "error".
	OnCall func(op, outcome string, seconds float64)
}

// Monitor drives one flow through trigger and manual status checks.
type Monitor struct {
	engine    Engine
	namespace string
	flowID    string
	logger    log.Logger
	hooks     Hooks

	opMu sync.Mutex // one engine call at a time

	mu    sync.RWMutex
	state State
}

// NewMonitor creates an idle monitor. Empty namespace or flowID use the defaults.
func NewMonitor(engine Engine, namespace, flowID string, logger log.Logger, hooks Hooks) *Monitor {
	if engine == nil {
		panic(xerrors.New("workflow engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if flowID == "" {
		flowID = DefaultFlowID
	}
	return &Monitor{
		engine:    engine,
		namespace: namespace,
		flowID:    flowID,
		logger:    logger,
		hooks:     hooks,
		state:     State{Phase: PhaseIdle},
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Trigger starts a new execution for user. It may be called from any phase;
// success replaces the tracked execution and clears its output. On failure
// the previous state is kept as is and LastError describes the fault.
func (m *Monitor) Trigger(ctx context.Context, user string) State {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := tracer.Start(ctx, "workflow.trigger", trace.WithAttributes(
		attribute.String("workflow.namespace", m.namespace),
		attribute.String("workflow.flow_id", m.flowID),
	))
	defer span.End()

	m.update(func(s *State) { s.LastError = "" })

	start := time.Now()
	exec, err := m.engine.Trigger(ctx, m.namespace, m.flowID, map[string]string{UserInput: user})
	if err == nil && (exec == nil || exec.ID == "") {
		err = errors.New("response carried no execution id")
	}
	m.observe("trigger", err, start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error(ctx, err, "workflow trigger failed", "namespace", m.namespace, "flow_id", m.flowID)
		msg := describe("Failed to trigger workflow. ", err)
		return m.update(func(s *State) { s.LastError = msg })
	}

	span.SetAttributes(attribute.String("workflow.execution_id", exec.ID))
	m.logger.Info(ctx, "workflow triggered", "namespace", m.namespace, "flow_id", m.flowID, "execution_id", exec.ID)

	return m.update(func(s *State) {
		*s = State{Phase: PhaseTriggered, ExecutionID: exec.ID}
	})
}

// CheckStatus polls the tracked execution once. Without an execution, or once
// terminal, it is a no-op and issues no request. Transport faults set LastError
// and leave the phase alone; only terminal states end polling.
func (m *Monitor) CheckStatus(ctx context.Context) State {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cur := m.State()
	if cur.ExecutionID == "" || cur.Phase.Terminal() {
		return cur
	}

	ctx, span := tracer.Start(ctx, "workflow.status", trace.WithAttributes(
		attribute.String("workflow.execution_id", cur.ExecutionID),
	))
	defer span.End()

	m.update(func(s *State) { s.LastError = "" })

	start := time.Now()
	exec, err := m.engine.Status(ctx, cur.ExecutionID)
	if err == nil && exec == nil {
		err = errors.New("response carried no execution")
	}
	m.observe("status", err, start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error(ctx, err, "workflow status check failed", "execution_id", cur.ExecutionID)
		msg := describe("Failed to check workflow status. ", err)
		return m.update(func(s *State) { s.LastError = msg })
	}

	span.SetAttributes(attribute.String("workflow.state", exec.State))

	next := State{
		Phase:           PhasePolling,
		ExecutionID:     cur.ExecutionID,
		LastKnownStatus: exec.State,
	}
	switch exec.State {
	case StateSuccess:
		next.Phase = PhaseSucceeded
		if out, ok := exec.Output(OutputTaskID, OutputKey); ok {
			next.ExtractedOutput = out
		}
	case StateFailed, StateKilled:
		next.Phase = PhaseFailed
	}

	if next.Phase.Terminal() {
		m.logger.Info(ctx, "workflow finished", "execution_id", cur.ExecutionID, "state", exec.State)
	}

	return m.update(func(s *State) { *s = next })
}

func (m *Monitor) update(fn func(s *State)) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
	return m.state
}

func (m *Monitor) observe(op string, err error, start time.Time) {
	if m.hooks.OnCall == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.hooks.OnCall(op, outcome, time.Since(start).Seconds())
}

// describe renders a fault for display next to the workflow controls.
func describe(prefix string, err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return fmt.Sprintf("%sStatus: %d. Message: %s", prefix, he.StatusCode, he.Message)
	}
	return prefix + "Message: " + err.Error()
}
