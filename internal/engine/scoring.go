package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// Fixed rescale ceilings for the composite score.
const (
	wsjfCeiling = 5.0
	iceCeiling  = 1000.0
)

// WSJF thresholds for MoSCoW reclassification, and the band around each
// threshold inside which the triage category breaks the tie.
const (
	mustThreshold   = 3.0
	shouldThreshold = 2.0
	couldThreshold  = 1.0
	tieBreakBand    = 0.25
)

// Retention index dimension weights. They sum to 1.
var retentionWeights = map[string]float64{
	models.RetentionMarketPotential:  0.20,
	models.RetentionModificationGain: 0.10,
	models.RetentionFinancialImpact:  0.20,
	models.RetentionStrategicFit:     0.20,
	models.RetentionResources:        0.10,
	models.RetentionRiskInverse:      0.10,
	models.RetentionCompetitive:      0.10,
}

// ScoringConfig holds the composite blend weights.
type ScoringConfig struct {
	WSJFWeight      float64
	ICEWeight       float64
	RetentionWeight float64
}

// DefaultScoringConfig returns the standard 0.4/0.3/0.3 blend.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{WSJFWeight: 0.4, ICEWeight: 0.3, RetentionWeight: 0.3}
}

// Validate rejects weight sets that do not sum to 1. This is a configuration
// error and must surface before any item processing.
func (c ScoringConfig) Validate() error {
	sum := c.WSJFWeight + c.ICEWeight + c.RetentionWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("scoring weights sum to %.3f, want 1.0", sum)
	}
	if c.WSJFWeight < 0 || c.ICEWeight < 0 || c.RetentionWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	return nil
}

// ScoringEngine computes WSJF, ICE, retention index, the composite score, the
// MoSCoW reclassification and a recommendation for every item. It can run
// standalone with neutral triage defaults.
type ScoringEngine struct {
	cfg    ScoringConfig
	logger *slog.Logger
}

// NewScoringEngine constructs a scoring engine; cfg must already be valid.
func NewScoringEngine(cfg ScoringConfig, logger *slog.Logger) *ScoringEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringEngine{cfg: cfg, logger: logger}
}

// Score evaluates every item. triage may be the zero value when scoring runs
// standalone.
func (e *ScoringEngine) Score(items []models.PortfolioItem, triage models.TriageOutput) models.ScoringOutput {
	scores := make([]models.PriorityScore, 0, len(items))
	for _, item := range items {
		tr, _ := triage.ResultFor(item.ID)
		scores = append(scores, e.scoreItem(item, tr))
	}
	return Summarize(scores)
}

// Summarize computes run-level aggregates over a score set. It is also used
// to refresh aggregates after learned-pattern adjustments mutate scores.
func Summarize(scores []models.PriorityScore) models.ScoringOutput {
	out := models.ScoringOutput{
		Scores:       scores,
		Distribution: map[string]int{models.BucketExcellent: 0, models.BucketGood: 0, models.BucketFair: 0, models.BucketPoor: 0},
	}

	var sum float64
	for _, score := range scores {
		sum += score.OverallScore
		out.Distribution[distributionBucket(score.OverallScore)]++
	}
	if len(scores) > 0 {
		out.MeanScore = sum / float64(len(scores))
	}

	ranked := append([]models.PriorityScore(nil), scores...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].OverallScore > ranked[j].OverallScore })
	for i := 0; i < len(ranked) && i < 5; i++ {
		out.TopPerformers = append(out.TopPerformers, ranked[i].ItemID)
	}
	for i := len(ranked) - 1; i >= 0 && len(out.BottomPerformers) < 5; i-- {
		out.BottomPerformers = append(out.BottomPerformers, ranked[i].ItemID)
	}
	return out
}

func (e *ScoringEngine) scoreItem(item models.PortfolioItem, tr models.TriageResult) models.PriorityScore {
	breakdown := make(map[string]float64, 14)

	wsjf := e.wsjf(item, tr, breakdown)
	ice := e.ice(item, tr, breakdown)
	retention := e.retentionIndex(item, breakdown)

	scaledWSJF := math.Min(wsjf/wsjfCeiling, 1) * 100
	scaledICE := math.Min(ice/iceCeiling, 1) * 100
	overall := clamp(e.cfg.WSJFWeight*scaledWSJF+e.cfg.ICEWeight*scaledICE+e.cfg.RetentionWeight*retention*100, 0, 100)

	moscow := reclassify(wsjf, tr.Category)
	rec := recommend(overall, retention, moscow)

	score := models.PriorityScore{
		ItemID:         item.ID,
		OverallScore:   overall,
		WSJFScore:      wsjf,
		ICEScore:       ice,
		RetentionIndex: retention,
		Moscow:         moscow,
		Breakdown:      breakdown,
		Confidence:     dataCompleteness(item),
		Recommendation: rec,
	}
	score.Reasoning = reasoning(score, tr)
	return score
}

// wsjf computes (businessValue + timeCriticality + riskReduction) / jobSize,
// each term clamped to 1-10.
func (e *ScoringEngine) wsjf(item models.PortfolioItem, tr models.TriageResult, breakdown map[string]float64) float64 {
	bv := clamp(item.BusinessValueOrDefault(), 1, 10)

	tc := 5.0
	switch tr.Category {
	case models.TriageMust:
		tc = 9
	case models.TriageShould:
		tc = 7
	case models.TriageCould:
		tc = 4
	case models.TriageWont:
		tc = 2
	}
	if item.EarlyPhase() {
		tc = math.Min(tc+2, 10)
	}

	rr := 5.0
	switch item.RiskLevel {
	case models.RiskCritical:
		rr = 9
	case models.RiskHigh:
		rr = 7
	case models.RiskMedium:
		rr = 5
	case models.RiskLow:
		rr = 3
	}

	size := jobSize(item)

	breakdown[models.FactorBusinessValue] = bv
	breakdown[models.FactorTimeCriticality] = tc
	breakdown[models.FactorRiskReduction] = rr
	breakdown[models.FactorJobSize] = size

	return (bv + tc + rr) / math.Max(1, size)
}

// jobSize derives effort from cost-to-budget ratio when both are declared,
// otherwise from complexity.
func jobSize(item models.PortfolioItem) float64 {
	if item.EstimatedCost > 0 && item.Budget > 0 {
		return clamp(item.EstimatedCost/item.Budget*5, 1, 10)
	}
	switch item.Complexity {
	case models.ComplexityLow:
		return 3
	case models.ComplexityMedium:
		return 5
	case models.ComplexityHigh:
		return 8
	}
	return 5
}

// ice computes impact x confidence x ease, each factor 1-10.
func (e *ScoringEngine) ice(item models.PortfolioItem, tr models.TriageResult, breakdown map[string]float64) float64 {
	var impact float64
	switch {
	case item.BusinessValue > 0 && item.StrategicAlignment > 0:
		impact = (item.BusinessValue + item.StrategicAlignment) / 2
	case item.BusinessValue > 0:
		impact = item.BusinessValue
	case item.StrategicAlignment > 0:
		impact = item.StrategicAlignment
	default:
		impact = models.NeutralMidpoint
	}
	impact = clamp(impact, 1, 10)

	confidence := 7.0
	switch item.RiskLevel {
	case models.RiskCritical:
		confidence = 4
	case models.RiskHigh:
		confidence = 5
	case models.RiskLow:
		confidence = 9
	}
	if tr.Confidence >= 0.8 {
		confidence = math.Min(confidence+1, 10)
	}

	ease := 5.0
	switch item.Complexity {
	case models.ComplexityLow:
		ease = 9
	case models.ComplexityMedium:
		ease = 5
	case models.ComplexityHigh:
		ease = 2
	}
	if len(item.Dependencies) > 3 {
		ease = math.Max(ease-2, 1)
	}

	breakdown[models.FactorImpact] = impact
	breakdown[models.FactorConfidence] = confidence
	breakdown[models.FactorEase] = ease

	return impact * confidence * ease
}

// retentionIndex is the weighted average of seven dimensions, each in [0,1].
func (e *ScoringEngine) retentionIndex(item models.PortfolioItem, breakdown map[string]float64) float64 {
	dims := map[string]float64{
		models.RetentionMarketPotential:  marketPotential(item),
		models.RetentionModificationGain: modificationGain(item),
		models.RetentionFinancialImpact:  financialImpact(item),
		models.RetentionStrategicFit:     strategicFit(item),
		models.RetentionResources:        resourceRequirements(item),
		models.RetentionRiskInverse:      riskInverse(item),
		models.RetentionCompetitive:      competitivePosition(item),
	}

	var index float64
	for name, value := range dims {
		breakdown[name] = value
		index += retentionWeights[name] * value
	}
	return clamp(index, 0, 1)
}

func marketPotential(item models.PortfolioItem) float64 {
	base := 0.7
	switch item.Lifecycle {
	case models.LifecyclePlanning:
		base = 0.7
	case models.LifecycleIntroduction:
		base = 0.8
	case models.LifecycleGrowth:
		base = 0.9
	case models.LifecycleMaturity:
		base = 0.5
	case models.LifecycleDecline:
		base = 0.25
	case models.LifecycleEndOfLife:
		base = 0.05
	}
	if hasAnyTag(item, "strategic", "compliance", "security", "growth") {
		base += 0.25
	}
	return clamp(base, 0, 1)
}

func modificationGain(item models.PortfolioItem) float64 {
	if item.Lifecycle == models.LifecycleEndOfLife {
		return 0.1
	}
	base := 0.6
	switch item.Complexity {
	case models.ComplexityLow:
		base = 0.8
	case models.ComplexityMedium:
		base = 0.55
	case models.ComplexityHigh:
		base = 0.3
	}
	if item.Lifecycle == models.LifecycleDecline {
		base -= 0.2
	}
	if hasAnyTag(item, "legacy") {
		base -= 0.2
	}
	return clamp(base, 0.1, 1)
}

func financialImpact(item models.PortfolioItem) float64 {
	base := item.BusinessValueOrDefault() / 10
	if item.ROI > 0 {
		base = clamp(item.ROI/100, 0, 1)
	}
	switch item.Lifecycle {
	case models.LifecycleEndOfLife:
		base *= 0.4
	case models.LifecycleDecline:
		base *= 0.7
	}
	return clamp(base, 0, 1)
}

func strategicFit(item models.PortfolioItem) float64 {
	if hasAnyTag(item, "compliance", "security", "regulatory") {
		// A mandated capability is a perfect fit regardless of alignment input.
		return 1
	}
	base := item.StrategicAlignmentOrDefault() / 10
	if item.Lifecycle == models.LifecycleEndOfLife {
		base *= 0.5
	}
	return clamp(base, 0, 1)
}

func resourceRequirements(item models.PortfolioItem) float64 {
	if item.Budget > 0 && item.EstimatedCost > 0 {
		overrun := item.EstimatedCost / item.Budget
		switch {
		case overrun <= 0.8:
			return 0.9
		case overrun <= 1.0:
			return 0.7
		case overrun <= 1.3:
			return 0.45
		default:
			return 0.2
		}
	}
	switch item.Complexity {
	case models.ComplexityLow:
		return 0.8
	case models.ComplexityMedium:
		return 0.55
	case models.ComplexityHigh:
		return 0.3
	}
	return 0.7
}

func riskInverse(item models.PortfolioItem) float64 {
	switch item.RiskLevel {
	case models.RiskLow:
		return 0.9
	case models.RiskMedium:
		return 0.6
	case models.RiskHigh:
		return 0.35
	case models.RiskCritical:
		return 0.2
	}
	return 0.6
}

func competitivePosition(item models.PortfolioItem) float64 {
	base := 0.6
	if item.ActiveUsers != nil {
		switch users := *item.ActiveUsers; {
		case users >= 1000:
			base = 0.85
		case users >= 100:
			base = 0.65
		case users >= 1:
			base = 0.4
		default:
			base = 0.1
		}
	}
	if hasAnyTag(item, "differentiator") {
		base += 0.15
	}
	return clamp(base, 0, 1)
}

// reclassify maps a WSJF score to a MoSCoW label. An explicit WONT triage
// category is always honoured. Near a bucket boundary the triage category
// breaks the tie toward its own bucket.
func reclassify(wsjf float64, triage models.TriageCategory) models.MoscowLabel {
	if triage == models.TriageWont {
		return models.MoscowWont
	}

	label := models.MoscowWont
	switch {
	case wsjf > mustThreshold:
		label = models.MoscowMust
	case wsjf >= shouldThreshold:
		label = models.MoscowShould
	case wsjf >= couldThreshold:
		label = models.MoscowCould
	}

	preferred, ok := triageToMoscow(triage)
	if !ok || preferred == label {
		return label
	}
	for _, threshold := range []float64{mustThreshold, shouldThreshold, couldThreshold} {
		if math.Abs(wsjf-threshold) <= tieBreakBand && adjacent(label, preferred) {
			return preferred
		}
	}
	return label
}

func triageToMoscow(c models.TriageCategory) (models.MoscowLabel, bool) {
	switch c {
	case models.TriageMust:
		return models.MoscowMust, true
	case models.TriageShould:
		return models.MoscowShould, true
	case models.TriageCould:
		return models.MoscowCould, true
	case models.TriageWont:
		return models.MoscowWont, true
	}
	return "", false
}

var moscowOrder = map[models.MoscowLabel]int{
	models.MoscowMust:   0,
	models.MoscowShould: 1,
	models.MoscowCould:  2,
	models.MoscowWont:   3,
}

func adjacent(a, b models.MoscowLabel) bool {
	diff := moscowOrder[a] - moscowOrder[b]
	return diff == 1 || diff == -1
}

// recommend derives the portfolio action. Clause order matters.
func recommend(overall, retention float64, moscow models.MoscowLabel) models.Recommendation {
	switch {
	case moscow == models.MoscowWont && retention < 0.4:
		return models.RecommendEliminate
	case overall >= 70 || moscow == models.MoscowMust:
		return models.RecommendInvest
	case overall >= 50 && retention >= 0.5:
		return models.RecommendMaintain
	case overall >= 40 || retention >= 0.4:
		return models.RecommendOptimize
	}
	return models.RecommendEliminate
}

// dataCompleteness reflects how many optional attributes were actually
// declared; sparse records score with lower confidence, never an error.
func dataCompleteness(item models.PortfolioItem) float64 {
	present := 0
	total := 9
	if item.BusinessValue > 0 {
		present++
	}
	if item.StrategicAlignment > 0 {
		present++
	}
	if item.ROI > 0 {
		present++
	}
	if item.RiskLevel != "" {
		present++
	}
	if item.Complexity != "" {
		present++
	}
	if item.Lifecycle != "" {
		present++
	}
	if item.Budget > 0 {
		present++
	}
	if item.EstimatedCost > 0 {
		present++
	}
	if item.ActiveUsers != nil {
		present++
	}
	return clamp(0.3+0.7*float64(present)/float64(total), 0, 1)
}

func reasoning(score models.PriorityScore, tr models.TriageResult) []string {
	lines := []string{
		fmt.Sprintf("WSJF %.2f, ICE %.0f, retention %.2f", score.WSJFScore, score.ICEScore, score.RetentionIndex),
		fmt.Sprintf("classified %s, recommendation %s", score.Moscow, score.Recommendation),
	}
	if tr.Category != "" && tr.Category != models.TriageUnknown {
		lines = append(lines, fmt.Sprintf("triage %s (confidence %.2f)", tr.Category, tr.Confidence))
	}
	return lines
}

func distributionBucket(score float64) string {
	switch {
	case score >= 80:
		return models.BucketExcellent
	case score >= 60:
		return models.BucketGood
	case score >= 40:
		return models.BucketFair
	}
	return models.BucketPoor
}

func hasAnyTag(item models.PortfolioItem, tags ...string) bool {
	for _, tag := range tags {
		if item.HasTag(tag) {
			return true
		}
	}
	return false
}
