package models

import (
	"errors"
	"fmt"
	"time"
)

// PrioritizationRequest is one full pipeline invocation for a tenant.
type PrioritizationRequest struct {
	TenantID            string           `json:"tenantId"`
	Items               []PortfolioItem  `json:"items"`
	Context             StrategicContext `json:"context,omitempty"`
	Constraints         *Constraints     `json:"constraints,omitempty"`
	GenerateScenarios   bool             `json:"generateScenarios,omitempty"`
	ConfidenceThreshold float64          `json:"confidenceThreshold,omitempty"`
}

// Validate rejects requests the pipeline cannot meaningfully process.
func (r *PrioritizationRequest) Validate() error {
	if r.TenantID == "" {
		return errors.New("tenantId is required")
	}
	if len(r.Items) == 0 {
		return errors.New("at least one portfolio item is required")
	}
	seen := make(map[string]bool, len(r.Items))
	for i, item := range r.Items {
		if item.ID == "" {
			return fmt.Errorf("item at index %d has no id", i)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate item id %q", item.ID)
		}
		seen[item.ID] = true
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold %.2f outside [0,1]", r.ConfidenceThreshold)
	}
	return nil
}

// PipelineResult is the complete output of one pipeline run. A run always
// returns a complete result; failure is expressed through Warnings, UNKNOWN
// triage buckets, and constraint violations, not a terminated pipeline.
type PipelineResult struct {
	RunID        string             `json:"runId"`
	TenantID     string             `json:"tenantId"`
	Triage       TriageOutput       `json:"triage"`
	Scoring      ScoringOutput      `json:"scoring"`
	Optimization OptimizationResult `json:"optimization"`
	Warnings     []string           `json:"warnings,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Pipeline milestone phases reported through the progress callback.
const (
	PhaseLoading      = "loading"
	PhaseTriage       = "triage"
	PhaseScoring      = "scoring"
	PhaseLearning     = "learning"
	PhaseOptimization = "optimization"
	PhaseComplete     = "complete"
)

// ProgressEvent is an observational pipeline milestone. Its absence never
// changes computed results.
type ProgressEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// ProgressFunc receives pipeline milestones. May be nil.
type ProgressFunc func(ProgressEvent)
