package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register must tolerate existing collectors: %v", err)
	}
}

func TestObserveRunNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeSuccess))
	ObserveRun(50*time.Millisecond, "finished")
	after := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeSuccess))
	if after != before+1 {
		t.Fatalf("unknown outcomes should count as success, got %v -> %v", before, after)
	}

	beforeErr := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeError))
	ObserveRun(-time.Second, OutcomeError)
	afterErr := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeError))
	if afterErr != beforeErr+1 {
		t.Fatalf("error outcome not recorded, got %v -> %v", beforeErr, afterErr)
	}
}

func TestAddPatternsApplied(t *testing.T) {
	before := testutil.ToFloat64(patternsAppliedTotal)
	AddPatternsApplied(3)
	AddPatternsApplied(0)
	AddPatternsApplied(-2)
	after := testutil.ToFloat64(patternsAppliedTotal)
	if after != before+3 {
		t.Fatalf("only positive counts should accumulate, got %v -> %v", before, after)
	}
}

func TestObserveOracle(t *testing.T) {
	before := testutil.ToFloat64(oracleRequestsTotal.WithLabelValues(OutcomeError))
	ObserveOracle(OutcomeError)
	after := testutil.ToFloat64(oracleRequestsTotal.WithLabelValues(OutcomeError))
	if after != before+1 {
		t.Fatalf("oracle error not recorded, got %v -> %v", before, after)
	}
}
