package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// ClassificationOracle is the external best-effort classifier consulted for
// items no static rule decides. Implementations are untrusted: anything
// absent from the returned set or outside the valid enum is coerced to
// UNKNOWN by the classifier, never propagated.
type ClassificationOracle interface {
	Classify(ctx context.Context, items []models.PortfolioItem, sc models.StrategicContext) ([]models.TriageResult, error)
}

// Confidence assigned to items the oracle could not decide.
const unknownConfidence = 0.2

// TriageClassifier assigns MoSCoW categories: static rules first, then one
// batched oracle call for the remainder.
type TriageClassifier struct {
	rules     *RuleSet
	oracle    ClassificationOracle
	logger    *slog.Logger
	threshold float64
}

// NewTriageClassifier constructs a classifier. The oracle may be nil, in
// which case undecided items are marked UNKNOWN.
func NewTriageClassifier(rules *RuleSet, oracle ClassificationOracle, threshold float64, logger *slog.Logger) *TriageClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.6
	}
	return &TriageClassifier{rules: rules, oracle: oracle, logger: logger, threshold: threshold}
}

// WithThreshold returns a copy of the classifier using the given rule
// confidence threshold. Out-of-range values keep the configured one.
func (t *TriageClassifier) WithThreshold(threshold float64) *TriageClassifier {
	if threshold <= 0 || threshold > 1 {
		return t
	}
	clone := *t
	clone.threshold = threshold
	return &clone
}

// Triage produces exactly one TriageResult per item plus aggregate counts.
// Rules are evaluated in declared priority order; the first full match at or
// above the confidence threshold wins. Remaining items go to the oracle in a
// single batch.
func (t *TriageClassifier) Triage(ctx context.Context, items []models.PortfolioItem, sc models.StrategicContext) models.TriageOutput {
	out := models.TriageOutput{
		Results: make([]models.TriageResult, 0, len(items)),
		Counts:  make(map[models.TriageCategory]int),
	}

	var undecided []models.PortfolioItem
	decided := make(map[string]models.TriageResult, len(items))

	for _, item := range items {
		rule, ok := t.rules.Match(item)
		if !ok || rule.Confidence < t.threshold {
			undecided = append(undecided, item)
			continue
		}
		decided[item.ID] = models.TriageResult{
			ItemID:     item.ID,
			Category:   rule.Category,
			Confidence: rule.Confidence,
			Reasoning:  truncateReasoning(fmt.Sprintf("matched rule %s", rule.Name)),
			KeySignals: []string{rule.Name},
		}
	}

	if len(undecided) > 0 {
		oracleResults, warning := t.classifyBatch(ctx, undecided, sc)
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
		}
		for id, res := range oracleResults {
			decided[id] = res
		}
	}

	for _, item := range items {
		res, ok := decided[item.ID]
		if !ok {
			res = unknownResult(item.ID, "no rule matched and oracle returned no result")
		}
		out.Results = append(out.Results, res)
		out.Counts[res.Category]++
	}
	return out
}

// classifyBatch issues exactly one oracle call for the whole undecided batch
// and coerces the response. Oracle failure is recovered locally: every item
// becomes UNKNOWN and the cause is recorded as a warning.
func (t *TriageClassifier) classifyBatch(ctx context.Context, items []models.PortfolioItem, sc models.StrategicContext) (map[string]models.TriageResult, string) {
	results := make(map[string]models.TriageResult, len(items))

	if t.oracle == nil {
		for _, item := range items {
			results[item.ID] = unknownResult(item.ID, "no rule matched and no classification oracle configured")
		}
		return results, ""
	}

	raw, err := t.oracle.Classify(ctx, items, sc)
	if err != nil {
		t.logger.Warn("classification oracle failed", slog.Int("items", len(items)), slog.Any("error", err))
		for _, item := range items {
			results[item.ID] = unknownResult(item.ID, "classification oracle unavailable")
		}
		return results, fmt.Sprintf("classification oracle failed for %d item(s): %v", len(items), err)
	}

	byID := make(map[string]models.TriageResult, len(raw))
	for _, res := range raw {
		byID[res.ItemID] = res
	}

	coerced := 0
	for _, item := range items {
		res, ok := byID[item.ID]
		if !ok {
			results[item.ID] = unknownResult(item.ID, "oracle returned no result for item")
			coerced++
			continue
		}
		if !models.ValidTriageCategory(res.Category) {
			results[item.ID] = unknownResult(item.ID, fmt.Sprintf("oracle returned invalid category %q", res.Category))
			coerced++
			continue
		}
		results[item.ID] = models.TriageResult{
			ItemID:     item.ID,
			Category:   res.Category,
			Confidence: clamp(res.Confidence, 0, 1),
			Reasoning:  truncateReasoning(res.Reasoning),
			KeySignals: capSignals(res.KeySignals),
		}
	}

	var warning string
	if coerced > 0 {
		warning = fmt.Sprintf("%d oracle result(s) coerced to UNKNOWN", coerced)
	}
	return results, warning
}

func unknownResult(itemID, cause string) models.TriageResult {
	return models.TriageResult{
		ItemID:     itemID,
		Category:   models.TriageUnknown,
		Confidence: unknownConfidence,
		Reasoning:  truncateReasoning(cause),
	}
}

func truncateReasoning(s string) string {
	if len(s) > models.MaxTriageReasoningLen {
		return s[:models.MaxTriageReasoningLen]
	}
	return s
}

func capSignals(signals []string) []string {
	if len(signals) > models.MaxKeySignals {
		return signals[:models.MaxKeySignals]
	}
	return signals
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
