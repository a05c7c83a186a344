package models

import "time"

// ConditionOp enumerates the comparison operators available to rule and
// pattern conditions.
type ConditionOp string

const (
	OpEq         ConditionOp = "eq"
	OpNe         ConditionOp = "ne"
	OpGt         ConditionOp = "gt"
	OpLt         ConditionOp = "lt"
	OpGte        ConditionOp = "gte"
	OpLte        ConditionOp = "lte"
	OpContains   ConditionOp = "contains"
	OpStartsWith ConditionOp = "startsWith"
	OpIncludes   ConditionOp = "includes"
)

// Condition compares one item field against a literal value. Field names are
// restricted to a closed allowlist; see the fields package.
type Condition struct {
	Field string      `json:"field" yaml:"field"`
	Op    ConditionOp `json:"op" yaml:"op"`
	Value string      `json:"value" yaml:"value"`
}

// AdjustmentKind enumerates how a learned pattern modifies a score.
type AdjustmentKind string

const (
	AdjustMultiply AdjustmentKind = "multiply"
	AdjustAdd      AdjustmentKind = "add"
	AdjustOverride AdjustmentKind = "override"
)

// AdjustmentTarget names what the adjustment acts upon.
type AdjustmentTarget string

const (
	TargetOverall  AdjustmentTarget = "overall"
	TargetCategory AdjustmentTarget = "category"
)

// Adjustment is the single effect attached to a learned pattern. Value is
// used by add/multiply; Category by override.
type Adjustment struct {
	Kind     AdjustmentKind   `json:"kind"`
	Target   AdjustmentTarget `json:"target"`
	Value    float64          `json:"value,omitempty"`
	Category MoscowLabel      `json:"category,omitempty"`
}

// LearnedPattern is a reusable adjustment rule mined from user corrections.
// Patterns are tenant-scoped and never cross tenant boundaries.
type LearnedPattern struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	Name          string      `json:"name"`
	Conditions    []Condition `json:"conditions"`
	Adjustment    Adjustment  `json:"adjustment"`
	Confidence    float64     `json:"confidence"`
	SupportCount  int         `json:"supportCount"`
	Active        bool        `json:"active"`
	HitCount      int         `json:"hitCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastTriggered time.Time   `json:"lastTriggered,omitempty"`
}

// FeedbackEvent records one user correction to a prior triage/score output,
// plus a snapshot of the item's feature values at correction time. Events are
// append-only.
type FeedbackEvent struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenantId"`
	ItemID            string            `json:"itemId"`
	OriginalCategory  MoscowLabel       `json:"originalCategory,omitempty"`
	CorrectedCategory MoscowLabel       `json:"correctedCategory,omitempty"`
	OriginalScore     float64           `json:"originalScore"`
	CorrectedScore    float64           `json:"correctedScore"`
	Rationale         string            `json:"rationale,omitempty"`
	Features          map[string]string `json:"features,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// CategoryCorrection reports whether the event changed the MoSCoW bucket.
func (f FeedbackEvent) CategoryCorrection() bool {
	return f.CorrectedCategory != "" && f.CorrectedCategory != f.OriginalCategory
}

// ScoreDelta returns the signed score change the user applied.
func (f FeedbackEvent) ScoreDelta() float64 {
	return f.CorrectedScore - f.OriginalScore
}
