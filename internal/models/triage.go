package models

// TriageCategory is the MoSCoW bucket assigned during triage.
type TriageCategory string

const (
	TriageMust    TriageCategory = "MUST"
	TriageShould  TriageCategory = "SHOULD"
	TriageCould   TriageCategory = "COULD"
	TriageWont    TriageCategory = "WONT"
	TriageUnknown TriageCategory = "UNKNOWN"
)

// ValidTriageCategory reports whether the value belongs to the closed enum.
// Oracle output failing this check is coerced to UNKNOWN, never propagated.
func ValidTriageCategory(c TriageCategory) bool {
	switch c {
	case TriageMust, TriageShould, TriageCould, TriageWont, TriageUnknown:
		return true
	}
	return false
}

// MaxTriageReasoningLen bounds the free-text reasoning carried on a result.
const MaxTriageReasoningLen = 500

// MaxKeySignals bounds the number of key signals per triage result.
const MaxKeySignals = 3

// TriageResult is the per-item outcome of the triage classifier. Exactly one
// exists per item per run.
type TriageResult struct {
	ItemID     string         `json:"itemId"`
	Category   TriageCategory `json:"category"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
	KeySignals []string       `json:"keySignals,omitempty"`
}

// TriageOutput bundles the per-item results with aggregate counts.
type TriageOutput struct {
	Results  []TriageResult         `json:"results"`
	Counts   map[TriageCategory]int `json:"counts"`
	Warnings []string               `json:"warnings,omitempty"`
}

// ResultFor returns the triage result for an item, if present.
func (o TriageOutput) ResultFor(itemID string) (TriageResult, bool) {
	for _, r := range o.Results {
		if r.ItemID == itemID {
			return r, true
		}
	}
	return TriageResult{}, false
}
