package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheus_TriggerCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	t.Run("increments completed counter", func(t *testing.T) {
		m.RecordTrigger(OutcomeCompleted, 2*time.Second)
		m.RecordTrigger(OutcomeCompleted, 3*time.Second)

		if val := getCounterValue(t, m.TriggersTotal, OutcomeCompleted); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
	})

	t.Run("tracks outcomes separately", func(t *testing.T) {
		m.RecordTrigger(OutcomeTimeout, 0)

		if val := getCounterValue(t, m.TriggersTotal, OutcomeTimeout); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
		if val := getCounterValue(t, m.TriggersTotal, OutcomeCompleted); val != 2 {
			t.Errorf("expected completed to stay 2, got %f", val)
		}
	})

	t.Run("observes only positive durations", func(t *testing.T) {
		var metric dto.Metric
		if err := m.TriggerDuration.(prometheus.Metric).Write(&metric); err != nil {
			t.Fatalf("failed to write metric: %v", err)
		}
		if got := metric.GetHistogram().GetSampleCount(); got != 2 {
			t.Errorf("expected 2 samples, got %d", got)
		}
		if got := metric.GetHistogram().GetSampleSum(); got != 5 {
			t.Errorf("expected sum 5, got %f", got)
		}
	})
}

func TestPrometheus_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.SetAgentsConnected(4)
	m.SetTriggersInFlight(2)
	m.SetUploadSessions(1)
	m.AddUploadBytes(1024)
	m.AddUploadBytes(-5)

	if v := getGaugeValue(t, m.AgentsConnected); v != 4 {
		t.Errorf("agents connected = %f, want 4", v)
	}
	if v := getGaugeValue(t, m.TriggersInFlight); v != 2 {
		t.Errorf("triggers in flight = %f, want 2", v)
	}
	if v := getGaugeValue(t, m.UploadSessionsActive); v != 1 {
		t.Errorf("upload sessions = %f, want 1", v)
	}

	var metric dto.Metric
	if err := m.UploadBytesTotal.(prometheus.Metric).Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if v := metric.GetCounter().GetValue(); v != 1024 {
		t.Errorf("upload bytes = %f, want 1024", v)
	}
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("expected error registering collectors twice")
	}
}

func TestPrometheus_NilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordTrigger(OutcomeFailed, time.Second)
	m.SetAgentsConnected(1)
	m.SetTriggersInFlight(1)
	m.SetUploadSessions(1)
	m.AddUploadBytes(1)
}

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
