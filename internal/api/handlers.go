package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/portfoliostack/portfolio-engine/internal/engine"
	"github.com/portfoliostack/portfolio-engine/internal/models"
	"github.com/portfoliostack/portfolio-engine/internal/patterns"
	"github.com/portfoliostack/portfolio-engine/internal/repo"
	"github.com/portfoliostack/portfolio-engine/internal/utils"
)

// RunGetter fetches persisted pipeline runs.
type RunGetter interface {
	GetRun(ctx context.Context, runID string) (*models.PipelineResult, error)
}

// Handler exposes the prioritization engine over JSON HTTP.
type Handler struct {
	pipeline *engine.Pipeline
	learner  *patterns.Learner
	runs     RunGetter
	logger   *slog.Logger
	latency  *utils.LatencyTracker
}

// NewHandler constructs the HTTP handler set. runs may be nil when run
// persistence is disabled.
func NewHandler(pipeline *engine.Pipeline, learner *patterns.Learner, runs RunGetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline: pipeline,
		learner:  learner,
		runs:     runs,
		logger:   logger,
		latency:  utils.NewLatencyTracker(256),
	}
}

// Routes builds the chi router with the service's endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/prioritize", h.handlePrioritize)
		r.Post("/feedback", h.handleFeedback)
		r.Post("/patterns/mine", h.handleMine)
		r.Get("/patterns", h.handleListPatterns)
		r.Get("/runs/{runID}", h.handleGetRun)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	var req models.PrioritizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	start := time.Now()
	result, err := h.pipeline.Run(r.Context(), &req, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	h.observeLatency(time.Since(start))

	writeJSON(w, http.StatusOK, result)
}

// feedbackRequest carries a correction event plus, optionally, the live item
// so the server can snapshot its features. Mine triggers an inline mining
// pass after the event is stored.
type feedbackRequest struct {
	models.FeedbackEvent
	Item *models.PortfolioItem `json:"item,omitempty"`
	Mine bool                  `json:"mine,omitempty"`
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	ev := req.FeedbackEvent
	if err := h.learner.Record(r.Context(), &ev, req.Item); err != nil {
		status := http.StatusInternalServerError
		if utils.IsValidation(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "FEEDBACK_ERROR", err.Error())
		return
	}

	resp := map[string]any{"id": ev.ID}
	if req.Mine {
		mined, err := h.learner.Mine(r.Context(), ev.TenantID)
		if err != nil {
			// The event is already stored; mining can always be retried.
			h.logger.Warn("inline mining failed", "tenant_id", ev.TenantID, "error", err)
		} else {
			resp["minedPatterns"] = len(mined)
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type mineRequest struct {
	TenantID string `json:"tenantId"`
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tenantId is required")
		return
	}

	mined, err := h.learner.Mine(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "MINING_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": mined, "count": len(mined)})
}

func (h *Handler) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tenantId query parameter is required")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	list, err := h.learner.Patterns(r.Context(), tenantID, activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if list == nil {
		list = []models.LearnedPattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": list})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run persistence is disabled")
		return
	}
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tenantId query parameter is required")
		return
	}
	runID := chi.URLParam(r, "runID")
	result, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run "+runID+" not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	// A tenant must not be able to read another tenant's runs by guessing IDs.
	if result.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run "+runID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// observeLatency records one request duration and logs the rolling p95 every
// 20th sample.
func (h *Handler) observeLatency(d time.Duration) {
	h.latency.Observe(d)
	if n := h.latency.Count(); n%20 == 0 {
		h.logger.Info("prioritize latency",
			"samples", n,
			"p50", h.latency.Percentile(50),
			"p95", h.latency.Percentile(95))
	}
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
