package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.InstructionsProcessed.WithLabelValues("supply", "ok").Inc()
	m.InstructionsProcessed.WithLabelValues("supply", "ok").Inc()
	m.LedgerConflicts.Inc()

	if got := testutil.ToFloat64(m.InstructionsProcessed.WithLabelValues("supply", "ok")); got != 2 {
		t.Errorf("Expected 2 instructions, got %v", got)
	}
	if got := testutil.ToFloat64(m.LedgerConflicts); got != 1 {
		t.Errorf("Expected 1 conflict, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg, "test_program_instructions_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 series, got %d", count)
	}
}

func TestRecordAudit(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.AuditRuns)
	RecordAudit([]string{"supply_mismatch"})

	if got := testutil.ToFloat64(DefaultMetrics.AuditRuns); got != before+1 {
		t.Errorf("Expected audit runs %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.AuditViolations.WithLabelValues("supply_mismatch")); got < 1 {
		t.Errorf("Expected violation recorded, got %v", got)
	}
}
