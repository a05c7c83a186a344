package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

type fakeOracle struct {
	results []models.TriageResult
	err     error
	calls   int
	batch   int
}

func (f *fakeOracle) Classify(_ context.Context, items []models.PortfolioItem, _ models.StrategicContext) ([]models.TriageResult, error) {
	f.calls++
	f.batch = len(items)
	return f.results, f.err
}

func TestTriageRuleDecidedItemsSkipOracle(t *testing.T) {
	oracle := &fakeOracle{}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	items := []models.PortfolioItem{
		{ID: "a", Tags: []string{"compliance"}},
		{ID: "b", Lifecycle: models.LifecycleEndOfLife},
	}
	out := classifier.Triage(context.Background(), items, models.StrategicContext{})

	if oracle.calls != 0 {
		t.Fatalf("oracle should not be called when rules decide everything")
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.Results))
	}
	if out.Counts[models.TriageMust] != 1 || out.Counts[models.TriageWont] != 1 {
		t.Fatalf("unexpected counts: %v", out.Counts)
	}
}

func TestTriageSingleBatchForUndecided(t *testing.T) {
	oracle := &fakeOracle{results: []models.TriageResult{
		{ItemID: "u1", Category: models.TriageShould, Confidence: 0.7, Reasoning: "supports roadmap"},
		{ItemID: "u2", Category: models.TriageCould, Confidence: 0.6},
	}}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	items := []models.PortfolioItem{
		{ID: "u1", Name: "tool-one", BusinessValue: 3},
		{ID: "u2", Name: "tool-two", BusinessValue: 2},
	}
	out := classifier.Triage(context.Background(), items, models.StrategicContext{})

	if oracle.calls != 1 {
		t.Fatalf("expected exactly one oracle call, got %d", oracle.calls)
	}
	if oracle.batch != 2 {
		t.Fatalf("expected batch of 2, got %d", oracle.batch)
	}
	res, _ := out.ResultFor("u1")
	if res.Category != models.TriageShould {
		t.Fatalf("expected SHOULD from oracle, got %s", res.Category)
	}
}

func TestTriageOracleFailureDegradesToUnknown(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("rate limited")}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	items := []models.PortfolioItem{{ID: "u1", Name: "tool"}}
	out := classifier.Triage(context.Background(), items, models.StrategicContext{})

	res, _ := out.ResultFor("u1")
	if res.Category != models.TriageUnknown {
		t.Fatalf("expected UNKNOWN after oracle failure, got %s", res.Category)
	}
	if len(out.Warnings) == 0 {
		t.Fatalf("expected a warning for the failed oracle call")
	}
}

func TestTriageCoercesInvalidOracleOutput(t *testing.T) {
	oracle := &fakeOracle{results: []models.TriageResult{
		{ItemID: "u1", Category: "CRITICAL", Confidence: 0.9},
		// u2 is missing from the response entirely.
	}}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	items := []models.PortfolioItem{
		{ID: "u1", Name: "one"},
		{ID: "u2", Name: "two"},
	}
	out := classifier.Triage(context.Background(), items, models.StrategicContext{})

	for _, id := range []string{"u1", "u2"} {
		res, ok := out.ResultFor(id)
		if !ok {
			t.Fatalf("missing result for %s", id)
		}
		if res.Category != models.TriageUnknown {
			t.Fatalf("expected UNKNOWN for %s, got %s", id, res.Category)
		}
	}
}

func TestTriageNilOracle(t *testing.T) {
	classifier := NewTriageClassifier(builtinSet(t), nil, 0.6, nil)

	out := classifier.Triage(context.Background(), []models.PortfolioItem{{ID: "u", Name: "tool"}}, models.StrategicContext{})
	res, _ := out.ResultFor("u")
	if res.Category != models.TriageUnknown {
		t.Fatalf("expected UNKNOWN without an oracle, got %s", res.Category)
	}
}

func TestTriageTruncatesLongReasoning(t *testing.T) {
	long := strings.Repeat("x", models.MaxTriageReasoningLen*2)
	oracle := &fakeOracle{results: []models.TriageResult{
		{ItemID: "u1", Category: models.TriageCould, Confidence: 0.6, Reasoning: long,
			KeySignals: []string{"a", "b", "c", "d", "e"}},
	}}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	out := classifier.Triage(context.Background(), []models.PortfolioItem{{ID: "u1", Name: "tool"}}, models.StrategicContext{})
	res, _ := out.ResultFor("u1")
	if len(res.Reasoning) > models.MaxTriageReasoningLen {
		t.Fatalf("reasoning not truncated: %d chars", len(res.Reasoning))
	}
	if len(res.KeySignals) > models.MaxKeySignals {
		t.Fatalf("key signals not capped: %d", len(res.KeySignals))
	}
}

func TestWithThresholdSendsMoreToOracle(t *testing.T) {
	oracle := &fakeOracle{}
	classifier := NewTriageClassifier(builtinSet(t), oracle, 0.6, nil)

	// moderate-value matched at confidence 0.65; raising the threshold above
	// it pushes the item to the oracle.
	item := models.PortfolioItem{ID: "m", BusinessValue: 4}
	out := classifier.Triage(context.Background(), []models.PortfolioItem{item}, models.StrategicContext{})
	res, _ := out.ResultFor("m")
	if res.Category != models.TriageCould {
		t.Fatalf("expected COULD at default threshold, got %s", res.Category)
	}

	strict := classifier.WithThreshold(0.9)
	out = strict.Triage(context.Background(), []models.PortfolioItem{item}, models.StrategicContext{})
	if oracle.calls != 1 {
		t.Fatalf("expected oracle consultation at strict threshold")
	}
	res, _ = out.ResultFor("m")
	if res.Category != models.TriageUnknown {
		t.Fatalf("expected UNKNOWN from empty oracle response, got %s", res.Category)
	}
}
