package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/portfoliostack/portfolio-engine/internal/metrics"
	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// ScoreAdjuster mutates freshly computed scores with tenant-learned
// adjustments. Implementations must be safe for concurrent use.
type ScoreAdjuster interface {
	AdjustScores(ctx context.Context, tenantID string, scores []models.PriorityScore, items map[string]models.PortfolioItem) (applied int, err error)
}

// RunStore persists completed pipeline runs for later retrieval.
type RunStore interface {
	SaveRun(ctx context.Context, result *models.PipelineResult) error
}

// Pipeline chains triage, scoring, pattern adjustment, and optimization
// over a single tenant's item set.
type Pipeline struct {
	classifier *TriageClassifier
	scorer     *ScoringEngine
	optimizer  *Optimizer
	adjuster   ScoreAdjuster
	runs       RunStore
	logger     *slog.Logger
}

// NewPipeline wires the four stages. adjuster and runs may be nil; the
// pipeline then skips pattern adjustment and run persistence.
func NewPipeline(classifier *TriageClassifier, scorer *ScoringEngine, optimizer *Optimizer, adjuster ScoreAdjuster, runs RunStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		scorer:     scorer,
		optimizer:  optimizer,
		adjuster:   adjuster,
		runs:       runs,
		logger:     logger,
	}
}

// Run executes the full prioritization for one request. Only request
// validation aborts the run; stage degradations surface as warnings on the
// result so callers always receive triage, scores, and a selection.
func (p *Pipeline) Run(ctx context.Context, req *models.PrioritizationRequest, progress models.ProgressFunc) (*models.PipelineResult, error) {
	if err := req.Validate(); err != nil {
		metrics.ObserveRun(0, metrics.OutcomeError)
		return nil, err
	}
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "tenant_id", req.TenantID, "items", len(req.Items))

	emit := func(phase, msg string, pct int) {
		if progress != nil {
			progress(models.ProgressEvent{Phase: phase, Message: msg, Percent: pct})
		}
	}

	result := &models.PipelineResult{
		RunID:     runID,
		TenantID:  req.TenantID,
		CreatedAt: start,
	}

	emit(models.PhaseLoading, "validating portfolio items", 5)
	items := make(map[string]models.PortfolioItem, len(req.Items))
	for _, it := range req.Items {
		items[it.ID] = it
	}

	emit(models.PhaseTriage, "classifying items", 25)
	stageStart := time.Now()
	classifier := p.classifier
	if req.ConfidenceThreshold > 0 {
		classifier = classifier.WithThreshold(req.ConfidenceThreshold)
	}
	triage := classifier.Triage(ctx, req.Items, req.Context)
	metrics.ObserveStage("triage", time.Since(stageStart))
	result.Triage = triage
	result.Warnings = append(result.Warnings, triage.Warnings...)

	emit(models.PhaseScoring, "computing priority scores", 50)
	stageStart = time.Now()
	scoring := p.scorer.Score(req.Items, triage)
	metrics.ObserveStage("scoring", time.Since(stageStart))
	result.Scoring = scoring

	emit(models.PhaseLearning, "applying learned patterns", 70)
	if p.adjuster != nil {
		stageStart = time.Now()
		applied, err := p.adjuster.AdjustScores(ctx, req.TenantID, scoring.Scores, items)
		metrics.ObserveStage("learning", time.Since(stageStart))
		if err != nil {
			// Learned patterns are an enhancement; scoring stands without them.
			logger.Warn("pattern adjustment failed", "error", err)
			result.Warnings = append(result.Warnings, "pattern adjustment skipped: "+err.Error())
		} else if applied > 0 {
			metrics.AddPatternsApplied(applied)
			logger.Info("patterns applied", "count", applied)
			scoring = Summarize(scoring.Scores)
			result.Scoring = scoring
		}
	}

	emit(models.PhaseOptimization, "solving portfolio selection", 90)
	stageStart = time.Now()
	var cons models.Constraints
	if req.Constraints != nil {
		cons = *req.Constraints
	}
	opt := p.optimizer.Optimize(scoring.Scores, items, cons, req.GenerateScenarios)
	metrics.ObserveStage("optimization", time.Since(stageStart))
	result.Optimization = opt
	result.Warnings = append(result.Warnings, opt.ConstraintViolations...)

	if p.runs != nil {
		if err := p.runs.SaveRun(ctx, result); err != nil {
			logger.Warn("run persistence failed", "error", err)
			result.Warnings = append(result.Warnings, "run not persisted: "+err.Error())
		}
	}

	emit(models.PhaseComplete, "prioritization complete", 100)
	metrics.ObserveRun(time.Since(start), metrics.OutcomeSuccess)
	logger.Info("pipeline run complete",
		"selected", len(opt.Selected),
		"deferred", len(opt.Deferred),
		"eliminate", len(opt.EliminationCandidates),
		"duration", time.Since(start))
	return result, nil
}
