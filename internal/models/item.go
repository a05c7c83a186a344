package models

// ItemType enumerates the kinds of entries a portfolio can hold.
type ItemType string

const (
	ItemTypeInitiative ItemType = "initiative"
	ItemTypeProduct    ItemType = "product"
	ItemTypeService    ItemType = "service"
)

// RiskLevel captures declared delivery/operational risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Complexity captures declared implementation complexity.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Lifecycle enumerates portfolio lifecycle stages.
type Lifecycle string

const (
	LifecyclePlanning     Lifecycle = "planning"
	LifecycleIntroduction Lifecycle = "introduction"
	LifecycleGrowth       Lifecycle = "growth"
	LifecycleMaturity     Lifecycle = "maturity"
	LifecycleDecline      Lifecycle = "decline"
	LifecycleEndOfLife    Lifecycle = "end_of_life"
)

// NeutralMidpoint substitutes for missing 1-10 numeric attributes so sparse
// records are not systematically penalised.
const NeutralMidpoint = 5.0

// PortfolioItem is a single portfolio entry under evaluation. It is immutable
// during a pipeline run. Numeric attributes use 0 to mean "not provided";
// valid declared values are 1-10 for BusinessValue and StrategicAlignment.
// ActiveUsers is a pointer because an explicit zero is meaningful (a live
// product nobody uses) and distinct from "unknown".
type PortfolioItem struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Type               ItemType  `json:"type"`
	Category           string    `json:"category,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	BusinessValue      float64   `json:"businessValue,omitempty"`
	StrategicAlignment float64   `json:"strategicAlignment,omitempty"`
	ROI                float64   `json:"roi,omitempty"`
	RiskLevel          RiskLevel `json:"riskLevel,omitempty"`
	Complexity         Complexity `json:"complexity,omitempty"`
	Lifecycle          Lifecycle `json:"lifecycle,omitempty"`
	Budget             float64   `json:"budget,omitempty"`
	EstimatedCost      float64   `json:"estimatedCost,omitempty"`
	ActiveUsers        *int      `json:"activeUsers,omitempty"`
	Dependencies       []string  `json:"dependencies,omitempty"`
}

// BusinessValueOrDefault returns the declared business value or the neutral
// midpoint when missing.
func (p PortfolioItem) BusinessValueOrDefault() float64 {
	if p.BusinessValue <= 0 {
		return NeutralMidpoint
	}
	return p.BusinessValue
}

// StrategicAlignmentOrDefault returns the declared alignment or the neutral
// midpoint when missing.
func (p PortfolioItem) StrategicAlignmentOrDefault() float64 {
	if p.StrategicAlignment <= 0 {
		return NeutralMidpoint
	}
	return p.StrategicAlignment
}

// Cost returns the best cost estimate available for selection problems:
// estimated cost when declared, otherwise the allocated budget.
func (p PortfolioItem) Cost() float64 {
	if p.EstimatedCost > 0 {
		return p.EstimatedCost
	}
	return p.Budget
}

// HasTag reports whether the item carries the given tag (case-insensitive
// comparison is the caller's concern; tags are stored as supplied).
func (p PortfolioItem) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EarlyPhase reports whether the item sits in an early roadmap phase.
func (p PortfolioItem) EarlyPhase() bool {
	return p.Lifecycle == LifecyclePlanning || p.Lifecycle == LifecycleIntroduction
}

// StrategicContext describes the tenant's strategy inputs used by triage and
// the classification oracle.
type StrategicContext struct {
	Industry      string   `json:"industry,omitempty"`
	Goals         []string `json:"goals,omitempty"`
	BudgetPosture string   `json:"budgetPosture,omitempty"`
	CompanySize   string   `json:"companySize,omitempty"`
}
