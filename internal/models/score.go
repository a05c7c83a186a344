package models

// MoscowLabel is the scored (possibly reclassified) MoSCoW bucket.
type MoscowLabel string

const (
	MoscowMust   MoscowLabel = "must_have"
	MoscowShould MoscowLabel = "should_have"
	MoscowCould  MoscowLabel = "could_have"
	MoscowWont   MoscowLabel = "wont_have"
)

// ValidMoscowLabel reports whether the value belongs to the closed enum.
func ValidMoscowLabel(l MoscowLabel) bool {
	switch l {
	case MoscowMust, MoscowShould, MoscowCould, MoscowWont:
		return true
	}
	return false
}

// Recommendation is the portfolio action derived from scoring.
type Recommendation string

const (
	RecommendInvest    Recommendation = "invest"
	RecommendMaintain  Recommendation = "maintain"
	RecommendOptimize  Recommendation = "optimize"
	RecommendEliminate Recommendation = "eliminate"
)

// Breakdown keys for the raw sub-factors behind a priority score.
const (
	FactorBusinessValue   = "business_value"
	FactorTimeCriticality = "time_criticality"
	FactorRiskReduction   = "risk_reduction"
	FactorJobSize         = "job_size"
	FactorImpact          = "impact"
	FactorConfidence      = "confidence"
	FactorEase            = "ease"

	RetentionMarketPotential  = "market_potential"
	RetentionModificationGain = "modification_gain"
	RetentionFinancialImpact  = "financial_impact"
	RetentionStrategicFit     = "strategic_fit"
	RetentionResources        = "resource_requirements"
	RetentionRiskInverse      = "risk_inverse"
	RetentionCompetitive      = "competitive_position"
)

// PriorityScore is the multi-criteria score computed for one item.
type PriorityScore struct {
	ItemID         string             `json:"itemId"`
	OverallScore   float64            `json:"overallScore"`
	WSJFScore      float64            `json:"wsjfScore"`
	ICEScore       float64            `json:"iceScore"`
	RetentionIndex float64            `json:"retentionIndex"`
	Moscow         MoscowLabel        `json:"moscow"`
	Breakdown      map[string]float64 `json:"breakdown,omitempty"`
	Confidence     float64            `json:"confidence"`
	Reasoning      []string           `json:"reasoning,omitempty"`
	Recommendation Recommendation     `json:"recommendation"`
}

// Score distribution bucket names.
const (
	BucketExcellent = "excellent" // >= 80
	BucketGood      = "good"      // 60-79
	BucketFair      = "fair"      // 40-59
	BucketPoor      = "poor"      // < 40
)

// ScoringOutput bundles per-item scores with run-level aggregates.
type ScoringOutput struct {
	Scores           []PriorityScore `json:"scores"`
	MeanScore        float64         `json:"meanScore"`
	TopPerformers    []string        `json:"topPerformers,omitempty"`
	BottomPerformers []string        `json:"bottomPerformers,omitempty"`
	Distribution     map[string]int  `json:"distribution"`
}

// ScoreFor returns the score for an item, if present.
func (o ScoringOutput) ScoreFor(itemID string) (PriorityScore, bool) {
	for _, s := range o.Scores {
		if s.ItemID == itemID {
			return s, true
		}
	}
	return PriorityScore{}, false
}
