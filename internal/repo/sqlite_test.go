package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePattern(tenant, name string) models.LearnedPattern {
	return models.LearnedPattern{
		TenantID: tenant,
		Name:     name,
		Conditions: []models.Condition{
			{Field: "lifecycle", Op: models.OpEq, Value: "end_of_life"},
		},
		Adjustment: models.Adjustment{
			Kind:     models.AdjustOverride,
			Target:   models.TargetCategory,
			Category: models.MoscowWont,
		},
		Confidence:   0.65,
		SupportCount: 3,
		Active:       true,
		CreatedAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	events := []models.FeedbackEvent{
		{ID: "ev-2", TenantID: "t1", ItemID: "b", OriginalScore: 60, CorrectedScore: 72,
			Features: map[string]string{"tags": "compliance|core"}, CreatedAt: base.Add(time.Hour)},
		{ID: "ev-1", TenantID: "t1", ItemID: "a", OriginalCategory: models.MoscowCould,
			CorrectedCategory: models.MoscowWont, CreatedAt: base},
		{ID: "ev-3", TenantID: "t2", ItemID: "c", CreatedAt: base},
	}
	for i := range events {
		require.NoError(t, store.SaveFeedback(ctx, &events[i]))
	}

	got, err := store.ListFeedback(ctx, "t1", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2, "other tenants' events must not leak")

	// Oldest first.
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, "ev-2", got[1].ID)
	assert.Equal(t, models.MoscowWont, got[0].CorrectedCategory)
	assert.Equal(t, map[string]string{"tags": "compliance|core"}, got[1].Features)
	assert.InDelta(t, 12, got[1].ScoreDelta(), 1e-9)

	// The since bound excludes older events.
	got, err = store.ListFeedback(ctx, "t1", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ev-2", got[0].ID)
}

func TestUpsertPatternAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := samplePattern("t1", "category-could_have-to-wont_have")
	require.NoError(t, store.UpsertPattern(ctx, &first))
	require.NotEmpty(t, first.ID)

	// A later mining pass over more feedback re-upserts the same name.
	second := samplePattern("t1", "category-could_have-to-wont_have")
	second.SupportCount = 5
	second.Confidence = 0.75
	require.NoError(t, store.UpsertPattern(ctx, &second))
	assert.Equal(t, first.ID, second.ID, "upsert must resolve to the existing row")

	patterns, err := store.ListPatterns(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 5, patterns[0].SupportCount)
	assert.InDelta(t, 0.75, patterns[0].Confidence, 1e-9)
	assert.Equal(t, first.Conditions, patterns[0].Conditions)
	assert.Equal(t, first.Adjustment, patterns[0].Adjustment)
}

func TestUpsertPatternNeverLowersConfidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := samplePattern("t1", "score-boost")
	p.Confidence = 0.9
	require.NoError(t, store.UpsertPattern(ctx, &p))

	weaker := samplePattern("t1", "score-boost")
	weaker.Confidence = 0.6
	require.NoError(t, store.UpsertPattern(ctx, &weaker))

	patterns, err := store.ListPatterns(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.9, patterns[0].Confidence, 1e-9)
}

func TestListPatternsActiveFilterAndTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := samplePattern("t1", "keep")
	require.NoError(t, store.UpsertPattern(ctx, &active))
	stale := samplePattern("t1", "stale")
	require.NoError(t, store.UpsertPattern(ctx, &stale))
	other := samplePattern("t2", "keep")
	require.NoError(t, store.UpsertPattern(ctx, &other))

	// Retire the stale one through decay.
	n, err := store.DeactivatePatternsBefore(ctx, stale.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Re-upserting reactivates only the named pattern.
	reup := samplePattern("t1", "keep")
	require.NoError(t, store.UpsertPattern(ctx, &reup))

	activeOnly, err := store.ListPatterns(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, "keep", activeOnly[0].Name)

	all, err := store.ListPatterns(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	otherTenant, err := store.ListPatterns(ctx, "t2", false)
	require.NoError(t, err)
	require.Len(t, otherTenant, 1)
	assert.Equal(t, "t2", otherTenant[0].TenantID)
}

func TestRecordPatternHits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hit := samplePattern("t1", "hit")
	require.NoError(t, store.UpsertPattern(ctx, &hit))
	quiet := samplePattern("t1", "quiet")
	require.NoError(t, store.UpsertPattern(ctx, &quiet))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordPatternHits(ctx, []string{hit.ID}, at))
	require.NoError(t, store.RecordPatternHits(ctx, []string{hit.ID}, at.Add(time.Hour)))
	require.NoError(t, store.RecordPatternHits(ctx, nil, at))

	patterns, err := store.ListPatterns(ctx, "t1", false)
	require.NoError(t, err)
	byName := make(map[string]models.LearnedPattern, len(patterns))
	for _, p := range patterns {
		byName[p.Name] = p
	}
	assert.Equal(t, 2, byName["hit"].HitCount)
	assert.True(t, byName["hit"].LastTriggered.Equal(at.Add(time.Hour)))
	assert.Equal(t, 0, byName["quiet"].HitCount)
	assert.True(t, byName["quiet"].LastTriggered.IsZero())
}

func TestRecordPatternHitsCountsDuplicatesInBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := samplePattern("t1", "busy")
	require.NoError(t, store.UpsertPattern(ctx, &p))

	// The same pattern firing on several items in one run arrives as
	// repeated IDs in a single batch.
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordPatternHits(ctx, []string{p.ID, p.ID, p.ID}, at))

	patterns, err := store.ListPatterns(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 3, patterns[0].HitCount)
	assert.True(t, patterns[0].LastTriggered.Equal(at))
}

func TestDeactivatePatternsBeforeUsesLastTrigger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := samplePattern("t1", "old")
	require.NoError(t, store.UpsertPattern(ctx, &old))
	revived := samplePattern("t1", "revived")
	require.NoError(t, store.UpsertPattern(ctx, &revived))

	// Both were created before the cutoff, but one triggered recently.
	recent := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordPatternHits(ctx, []string{revived.ID}, recent))

	n, err := store.DeactivatePatternsBefore(ctx, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := store.ListPatterns(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "revived", active[0].Name)

	// A second pass has nothing left to retire.
	n, err = store.DeactivatePatternsBefore(ctx, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := &models.PipelineResult{
		RunID:    "run-1",
		TenantID: "t1",
		Scoring: models.ScoringOutput{
			Scores: []models.PriorityScore{
				{ItemID: "a", OverallScore: 71.5, Moscow: models.MoscowMust, Recommendation: models.RecommendInvest},
			},
			MeanScore:    71.5,
			Distribution: map[string]int{models.BucketGood: 1},
		},
		Optimization: models.OptimizationResult{
			Selected:  []models.PriorityScore{{ItemID: "a", OverallScore: 71.5}},
			TotalCost: 1200,
		},
		Warnings:  []string{"oracle unavailable"},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveRun(ctx, result))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, result.TenantID, got.TenantID)
	assert.Equal(t, result.Scoring.Scores, got.Scoring.Scores)
	assert.Equal(t, result.Optimization.Selected, got.Optimization.Selected)
	assert.Equal(t, result.Warnings, got.Warnings)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
