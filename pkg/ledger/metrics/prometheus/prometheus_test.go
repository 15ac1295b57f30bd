package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordCreditCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCreditCheck("user1", true)
	metrics.RecordCreditCheck("user1", true)
	metrics.RecordCreditCheck("user2", false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_credit_checks_total", "allowed", "true"); got != 2 {
		t.Errorf("allowed=true count = %v, want 2", got)
	}
	if got := counterValue(families, "test_credit_checks_total", "allowed", "false"); got != 1 {
		t.Errorf("allowed=false count = %v, want 1", got)
	}
}

func TestRecordSessionEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSessionEnd("user1", ledger.EndReasonUser, 3)
	metrics.RecordSessionEnd("user1", ledger.EndReasonStale, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_session_ends_total", "reason", "user_ended"); got != 1 {
		t.Errorf("user_ended count = %v, want 1", got)
	}
	if got := counterValue(families, "test_session_ends_total", "reason", "stale"); got != 1 {
		t.Errorf("stale count = %v, want 1", got)
	}
}

func TestRecordSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSync("user1", 10*time.Millisecond, nil)
	metrics.RecordSync("user1", 20*time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if got := counterValue(families, "test_sync_errors_total"); got != 1 {
		t.Errorf("sync errors = %v, want 1", got)
	}
}

// counterValue finds a counter by name and optional single label pair.
func counterValue(families []*dto.MetricFamily, name string, labelPair ...string) float64 {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(labelPair) == 2 {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labelPair[0] && lp.GetValue() == labelPair[1] {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}
