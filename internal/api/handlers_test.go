package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliostack/portfolio-engine/internal/engine"
	"github.com/portfoliostack/portfolio-engine/internal/models"
	"github.com/portfoliostack/portfolio-engine/internal/patterns"
	"github.com/portfoliostack/portfolio-engine/internal/repo"
)

type memoryStore struct {
	feedback []models.FeedbackEvent
	patterns []models.LearnedPattern
}

func (s *memoryStore) SaveFeedback(_ context.Context, ev *models.FeedbackEvent) error {
	s.feedback = append(s.feedback, *ev)
	return nil
}

func (s *memoryStore) ListFeedback(_ context.Context, tenantID string, _ time.Time) ([]models.FeedbackEvent, error) {
	var out []models.FeedbackEvent
	for _, ev := range s.feedback {
		if ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memoryStore) UpsertPattern(_ context.Context, p *models.LearnedPattern) error {
	if p.ID == "" {
		p.ID = "p1"
	}
	s.patterns = append(s.patterns, *p)
	return nil
}

func (s *memoryStore) ListPatterns(_ context.Context, tenantID string, _ bool) ([]models.LearnedPattern, error) {
	var out []models.LearnedPattern
	for _, p := range s.patterns {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) RecordPatternHits(context.Context, []string, time.Time) error { return nil }

func (s *memoryStore) DeactivatePatternsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type memoryRuns struct {
	runs map[string]*models.PipelineResult
}

func (r *memoryRuns) GetRun(_ context.Context, runID string) (*models.PipelineResult, error) {
	if result, ok := r.runs[runID]; ok {
		return result, nil
	}
	return nil, repo.ErrNotFound
}

func newTestRouter(t *testing.T, runs RunGetter) (http.Handler, *memoryStore) {
	t.Helper()

	rules, err := engine.LoadRulePack("")
	require.NoError(t, err)
	classifier := engine.NewTriageClassifier(rules, nil, 0.75, nil)

	scoringCfg := engine.DefaultScoringConfig()
	require.NoError(t, scoringCfg.Validate())
	scorer := engine.NewScoringEngine(scoringCfg, nil)
	optimizer := engine.NewOptimizer(engine.DefaultOptimizerConfig(), nil)

	store := &memoryStore{}
	learner := patterns.NewLearner(store, nil, patterns.Config{}, nil)

	pipeline := engine.NewPipeline(classifier, scorer, optimizer, learner, nil, nil)
	return NewHandler(pipeline, learner, runs, nil).Routes(), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPrioritize(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := models.PrioritizationRequest{
		TenantID: "t1",
		Items: []models.PortfolioItem{
			{
				ID: "app-1", Name: "identity provider",
				BusinessValue: 9, StrategicAlignment: 8,
				RiskLevel: models.RiskCritical, EstimatedCost: 2000,
				Tags: []string{"compliance"},
			},
			{
				ID: "app-2", Name: "legacy wiki",
				BusinessValue: 2, EstimatedCost: 500,
				Lifecycle: models.LifecycleEndOfLife,
			},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/prioritize", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "t1", result.TenantID)
	assert.Len(t, result.Scoring.Scores, 2)
	assert.NotEmpty(t, result.Triage.Results)
	assert.NotZero(t, result.Scoring.MeanScore)
}

func TestPrioritizeValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/prioritize",
		models.PrioritizationRequest{TenantID: "t1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	req := httptest.NewRequest(http.MethodPost, "/v1/prioritize", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_BODY")
}

func TestFeedback(t *testing.T) {
	router, store := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
		"tenantId":          "t1",
		"itemId":            "app-1",
		"originalCategory":  "could_have",
		"correctedCategory": "wont_have",
		"item": map[string]any{
			"id": "app-1", "name": "legacy wiki", "lifecycle": "end_of_life",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])

	require.Len(t, store.feedback, 1)
	assert.Equal(t, "end_of_life", store.feedback[0].Features["lifecycle"], "server should snapshot the attached item")
}

func TestFeedbackWithInlineMining(t *testing.T) {
	router, store := newTestRouter(t, nil)

	// Seed two agreeing corrections, then let the third trigger mining.
	for _, itemID := range []string{"a", "b"} {
		rec := doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
			"tenantId":          "t1",
			"itemId":            itemID,
			"originalCategory":  "could_have",
			"correctedCategory": "wont_have",
			"features":          map[string]string{"lifecycle": "end_of_life"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
		"tenantId":          "t1",
		"itemId":            "c",
		"originalCategory":  "could_have",
		"correctedCategory": "wont_have",
		"features":          map[string]string{"lifecycle": "end_of_life"},
		"mine":              true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["minedPatterns"])
	assert.Len(t, store.patterns, 1)
}

func TestFeedbackValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
		"itemId": "app-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantId")

	rec = doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
		"tenantId": "t1", "itemId": "app-1", "correctedCategory": "critical",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMineAndListPatterns(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	// Three agreeing corrections produce a mineable pattern.
	for _, itemID := range []string{"a", "b", "c"} {
		rec := doJSON(t, router, http.MethodPost, "/v1/feedback", map[string]any{
			"tenantId":          "t1",
			"itemId":            itemID,
			"originalCategory":  "could_have",
			"correctedCategory": "wont_have",
			"features":          map[string]string{"lifecycle": "end_of_life"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/patterns/mine", map[string]any{"tenantId": "t1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mineResp struct {
		Count    int                     `json:"count"`
		Patterns []models.LearnedPattern `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mineResp))
	require.Equal(t, 1, mineResp.Count)
	assert.Equal(t, "category-could_have-to-wont_have", mineResp.Patterns[0].Name)

	rec = doJSON(t, router, http.MethodGet, "/v1/patterns?tenantId=t1&active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Patterns []models.LearnedPattern `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Patterns, 1)

	// Missing tenant parameter.
	rec = doJSON(t, router, http.MethodGet, "/v1/patterns", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown tenants get an empty list, not null.
	rec = doJSON(t, router, http.MethodGet, "/v1/patterns?tenantId=ghost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"patterns":[]}`, rec.Body.String())
}

func TestMineValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := doJSON(t, router, http.MethodPost, "/v1/patterns/mine", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantId")
}

func TestGetRun(t *testing.T) {
	stored := &models.PipelineResult{RunID: "run-1", TenantID: "t1", CreatedAt: time.Now().UTC()}
	router, _ := newTestRouter(t, &memoryRuns{runs: map[string]*models.PipelineResult{"run-1": stored}})

	rec := doJSON(t, router, http.MethodGet, "/v1/runs/run-1?tenantId=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "t1", result.TenantID)

	rec = doJSON(t, router, http.MethodGet, "/v1/runs/missing?tenantId=t1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// The tenant filter is mandatory; omitting it is a validation error, not
	// a cross-tenant read.
	rec = doJSON(t, router, http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A mismatched tenant behaves like an absent run.
	rec = doJSON(t, router, http.MethodGet, "/v1/runs/run-1?tenantId=t2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunPersistenceDisabled(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := doJSON(t, router, http.MethodGet, "/v1/runs/run-1?tenantId=t1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
