// Package metrics provides Prometheus metrics collection for Strongbox.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Trigger outcomes used as the "outcome" label of TriggersTotal.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeNotConnected = "not_connected"
	OutcomeSendFailed   = "send_failed"
)

// Metrics holds every collector exported by the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TriggersTotal        *prometheus.CounterVec
	TriggerDuration      prometheus.Histogram
	TriggersInFlight     prometheus.Gauge
	AgentsConnected      prometheus.Gauge
	UploadBytesTotal     prometheus.Counter
	UploadSessionsActive prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strongbox_triggers_total",
			Help: "On-demand backup triggers by outcome.",
		}, []string{"outcome"}),
		TriggerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strongbox_trigger_duration_seconds",
			Help:    "Time from trigger dispatch to the agent's result.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		TriggersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strongbox_triggers_in_flight",
			Help: "Triggers currently waiting for an agent result.",
		}),
		AgentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strongbox_agents_connected",
			Help: "Agents holding a live websocket connection.",
		}),
		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strongbox_upload_bytes_total",
			Help: "Bytes received from agents through uploads.",
		}),
		UploadSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strongbox_upload_sessions_active",
			Help: "Chunked upload sessions that are open.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.TriggersTotal,
		m.TriggerDuration,
		m.TriggersInFlight,
		m.AgentsConnected,
		m.UploadBytesTotal,
		m.UploadSessionsActive,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordTrigger counts a settled trigger and observes its duration when known.
func (m *Metrics) RecordTrigger(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.TriggerDuration.Observe(d.Seconds())
	}
}

// SetTriggersInFlight sets the in-flight trigger gauge.
func (m *Metrics) SetTriggersInFlight(n int) {
	if m == nil {
		return
	}
	m.TriggersInFlight.Set(float64(n))
}

// SetAgentsConnected sets the connected agent gauge.
func (m *Metrics) SetAgentsConnected(n int) {
	if m == nil {
		return
	}
	m.AgentsConnected.Set(float64(n))
}

// AddUploadBytes counts received upload bytes.
func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.UploadBytesTotal.Add(float64(n))
}

// SetUploadSessions sets the open upload session gauge.
func (m *Metrics) SetUploadSessions(n int) {
	if m == nil {
		return
	}
	m.UploadSessionsActive.Set(float64(n))
}
