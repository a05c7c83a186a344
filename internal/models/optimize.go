package models

// Coverage expresses minimum selection fractions per MoSCoW bucket.
// MustHave == 1.0 requests full must-have coverage: every must_have item is
// force-included even when this breaks the budget.
type Coverage struct {
	MustHave   float64 `json:"mustHave,omitempty"`
	ShouldHave float64 `json:"shouldHave,omitempty"`
}

// Constraints bounds the optimization selection. A zero-value TotalBudget
// means unconstrained budget, which forces the greedy algorithm.
type Constraints struct {
	TotalBudget     float64  `json:"totalBudget,omitempty"`
	MaxItems        int      `json:"maxItems,omitempty"`
	MinCoverage     Coverage `json:"minCoverage,omitempty"`
	PreferGreedy    bool     `json:"preferGreedy,omitempty"`
	CostGranularity float64  `json:"costGranularity,omitempty"`
	MaxTableCells   int      `json:"maxTableCells,omitempty"`
}

// FullMustHaveCoverage reports whether the caller asked for every must_have
// item to be selected.
func (c Constraints) FullMustHaveCoverage() bool {
	return c.MinCoverage.MustHave >= 1.0
}

// Scenario is one comparative what-if selection.
type Scenario struct {
	Name       string                 `json:"name"`
	ItemIDs    []string               `json:"itemIds"`
	TotalValue float64                `json:"totalValue"`
	TotalCost  float64                `json:"totalCost"`
	RiskRating float64                `json:"riskRating"`
	Coverage   map[Recommendation]int `json:"coverage,omitempty"`
}

// OptimizationResult partitions the scored item set into selected, deferred,
// and elimination candidates, with aggregate metrics. The three partitions
// are disjoint and their union equals the scored input.
type OptimizationResult struct {
	Selected              []PriorityScore `json:"selected"`
	Deferred              []PriorityScore `json:"deferred"`
	EliminationCandidates []PriorityScore `json:"eliminationCandidates"`

	TotalValue           float64 `json:"totalValue"`
	TotalCost            float64 `json:"totalCost"`
	RiskScore            float64 `json:"riskScore"`
	StrategicCoverage    float64 `json:"strategicCoverage"`
	DiversificationIndex float64 `json:"diversificationIndex"`

	Scenarios            []Scenario `json:"scenarios,omitempty"`
	ConstraintViolations []string   `json:"constraintViolations,omitempty"`
}
