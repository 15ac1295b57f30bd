package ledger_test

import (
	"testing"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

func TestDefaultPolicy(t *testing.T) {
	policy := ledger.DefaultPolicy()

	tests := []struct {
		plan ledger.Plan
		want int
	}{
		{ledger.PlanFree, 10},
		{ledger.PlanBasic, 100},
		{ledger.PlanPro, 500},
	}
	for _, tt := range tests {
		got, ok := policy.MinutesFor(tt.plan)
		if !ok {
			t.Errorf("MinutesFor(%s) not found", tt.plan)
		}
		if got != tt.want {
			t.Errorf("MinutesFor(%s) = %d, want %d", tt.plan, got, tt.want)
		}
	}

	if _, ok := policy.MinutesFor("platinum"); ok {
		t.Error("unknown plan should not resolve")
	}
	if policy.Valid("platinum") {
		t.Error("unknown plan should not be valid")
	}
	if !policy.Valid(ledger.PlanFree) {
		t.Error("free plan should be valid")
	}
}
