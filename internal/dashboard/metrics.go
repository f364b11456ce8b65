package dashboard

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/gryph/internal/chat"
	"github.com/linnemanlabs/gryph/internal/stream"
	"github.com/linnemanlabs/gryph/internal/timeline"
	"github.com/linnemanlabs/gryph/internal/workflow"
)

// Metrics holds Prometheus metrics for a dashboard session.
type Metrics struct {
	StreamEventsTotal       *prometheus.CounterVec
	StreamIgnoredTotal      prometheus.Counter
	StreamConnectsTotal     *prometheus.CounterVec
	StreamTerminationsTotal *prometheus.CounterVec
	StreamConnected         prometheus.Gauge
	TimelineEntriesTotal    *prometheus.CounterVec
	ActiveAlerts            prometheus.Gauge
	ChatSubmitsTotal        *prometheus.CounterVec
	WorkflowCallsTotal      *prometheus.CounterVec
	WorkflowCallDuration    *prometheus.HistogramVec
	NotificationsTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns dashboard metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_stream_events_total",
			Help: "Decoded stream events delivered, by event type.",
		}, []string{"type"}),
		StreamIgnoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gryph_stream_ignored_frames_total",
			Help: "Stream frames with an unknown type that were skipped.",
		}),
		StreamConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_stream_connects_total",
			Help: "Event stream connection attempts by outcome.",
		}, []string{"outcome"}),
		StreamTerminationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_stream_terminations_total",
			Help: "Event stream terminations by reason.",
		}, []string{"reason"}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gryph_stream_connected",
			Help: "1 while the event stream subscription is live.",
		}),
		TimelineEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_timeline_entries_total",
			Help: "Timeline entries appended, by origin and kind.",
		}, []string{"origin", "kind"}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gryph_active_alerts",
			Help: "Security alerts currently held by the aggregator.",
		}),
		ChatSubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_chat_submits_total",
			Help: "Chat submissions by result.",
		}, []string{"result"}),
		WorkflowCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_workflow_calls_total",
			Help: "Workflow engine calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		WorkflowCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gryph_workflow_call_duration_seconds",
			Help:    "Duration of workflow engine calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"op"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gryph_alert_notifications_total",
			Help: "Alert notifications sent, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.StreamEventsTotal,
		m.StreamIgnoredTotal,
		m.StreamConnectsTotal,
		m.StreamTerminationsTotal,
		m.StreamConnected,
		m.TimelineEntriesTotal,
		m.ActiveAlerts,
		m.ChatSubmitsTotal,
		m.WorkflowCallsTotal,
		m.WorkflowCallDuration,
		m.NotificationsTotal,
	)

	return m
}

// StreamHooks returns subscription hooks that update the stream metrics.
func (m *Metrics) StreamHooks() stream.Hooks {
	return stream.Hooks{
		OnOpen: func() {
			m.StreamConnected.Set(1)
		},
		OnIgnored: m.StreamIgnoredTotal.Inc,
		OnTerminate: func(err error) {
			m.StreamConnected.Set(0)
			m.StreamTerminationsTotal.WithLabelValues(terminationReason(err)).Inc()
		},
	}
}

// TimelineHooks returns log hooks that count appended entries.
func (m *Metrics) TimelineHooks() timeline.Hooks {
	return timeline.Hooks{
		OnAppend: func(e timeline.Entry) {
			m.TimelineEntriesTotal.WithLabelValues(string(e.Origin), string(e.Kind)).Inc()
		},
	}
}

// ChatHooks returns pipeline hooks that count submissions.
func (m *Metrics) ChatHooks() chat.Hooks {
	return chat.Hooks{
		OnSubmit: func(result string) {
			m.ChatSubmitsTotal.WithLabelValues(result).Inc()
		},
	}
}

// WorkflowHooks returns monitor hooks that count and time engine calls.
func (m *Metrics) WorkflowHooks() workflow.Hooks {
	return workflow.Hooks{
		OnCall: func(op, outcome string, seconds float64) {
			m.WorkflowCallsTotal.WithLabelValues(op, outcome).Inc()
			m.WorkflowCallDuration.WithLabelValues(op).Observe(seconds)
		},
	}
}

func terminationReason(err error) string {
	var de *stream.DecodeError
	switch {
	case err == nil:
		return "closed"
	case errors.As(err, &de):
		return "decode"
	case errors.Is(err, stream.ErrStreamEnded):
		return "ended"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "transport"
	}
}
