package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServiceMetricsRecordsRequestsAndTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordRequest("/api/download", "202", 0.05)
	m.RecordRequest("/api/download", "202", 0.07)
	m.RecordTaskTerminal("completed")
	m.RecordTaskTerminal("failed")
	m.RecordTaskTerminal("completed")

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/download", "202")); got != 2 {
		t.Errorf("requestsTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tasksTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("tasksTotal[completed] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tasksTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("tasksTotal[failed] = %v, want 1", got)
	}
}

func TestServiceMetricsPublishesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.SetQueueDepth(4)
	m.SetActiveDownloads(3)
	m.SetCircuitState("extractor", 1)

	if got := testutil.ToFloat64(m.queueDepth); got != 4 {
		t.Errorf("queueDepth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.activeDownloads); got != 3 {
		t.Errorf("activeDownloads = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.circuitState.WithLabelValues("extractor")); got != 1 {
		t.Errorf("circuitState[extractor] = %v, want 1", got)
	}
}
