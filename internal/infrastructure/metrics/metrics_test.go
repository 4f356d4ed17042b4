package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := New(registry)

	if m.TransfersTotal == nil || m.LedgerCalls == nil || m.Compensations == nil {
		t.Fatalf("expected key metrics to be initialized: %+v", m)
	}

	m.ObserveTransfer("bank_to_brokerage", "COMPLETED", 200, time.Second)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	if len(metricFamilies) == 0 {
		t.Fatalf("expected registered metrics, got none")
	}

	if got := testutil.ToFloat64(m.TransfersTotal.WithLabelValues("bank_to_brokerage", "COMPLETED")); got != 1 {
		t.Fatalf("expected one completed transfer, got %v", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	m.ObserveTransfer("x", "y", 1, time.Second)
	m.RejectTransfer("validation")
	m.ObserveLedgerCall("BANK", "debit", "ok", time.Millisecond)
	m.RetryLeg("BANK", "DEBIT")
	m.ObserveCompensation("succeeded")
	m.FlagManualReview()
	m.SetCircuitState("BANK", 2)
	m.ObserveRecovery("completed")
	m.ObserveOutbox("published")
	m.TrackInFlight()()
}

func TestTrackInFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := m.TrackInFlight()
	if got := testutil.ToFloat64(m.TransfersInFlight); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}

	done()
	if got := testutil.ToFloat64(m.TransfersInFlight); got != 0 {
		t.Fatalf("expected 0 in flight, got %v", got)
	}
}
