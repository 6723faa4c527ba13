package voice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus instruments of a controller.
type Metrics struct {
	Connects        *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	ConnectLatency  prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	DuplicateCalls  prometheus.Counter
	ParseErrors     prometheus.Counter
	ProviderErrors  prometheus.Counter
	ActivityChanges *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_connects_total",
			Help:      "Connect attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Voice sessions with an open transport.",
		}),
		ConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from connect to negotiated transport.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		DuplicateCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_calls_total",
			Help:      "Function calls suppressed as duplicates.",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed control-channel messages.",
		}),
		ProviderErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Error events sent by the realtime provider.",
		}),
		ActivityChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_transitions_total",
			Help:      "Activity state transitions by target state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) connectResult(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.ConnectLatency.Observe(d.Seconds())
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) toolResult(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.DuplicateCalls.Inc()
	}
}

func (m *Metrics) parseError() {
	if m != nil {
		m.ParseErrors.Inc()
	}
}

func (m *Metrics) providerError() {
	if m != nil {
		m.ProviderErrors.Inc()
	}
}

func (m *Metrics) activity(state string) {
	if m != nil {
		m.ActivityChanges.WithLabelValues(state).Inc()
	}
}
