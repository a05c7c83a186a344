package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// ErrNotFound signals an absent row.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists feedback events, learned patterns, and pipeline runs.
// It backs both the learner's Store and the pipeline's RunStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS feedback_events (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		item_id            TEXT NOT NULL,
		original_category  TEXT DEFAULT '',
		corrected_category TEXT DEFAULT '',
		original_score     REAL NOT NULL DEFAULT 0,
		corrected_score    REAL NOT NULL DEFAULT 0,
		rationale          TEXT DEFAULT '',
		features           TEXT DEFAULT '{}',
		created_at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_tenant_date ON feedback_events(tenant_id, created_at);

	CREATE TABLE IF NOT EXISTS learned_patterns (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		name           TEXT NOT NULL,
		conditions     TEXT NOT NULL,
		adjustment     TEXT NOT NULL,
		confidence     REAL NOT NULL,
		support_count  INTEGER NOT NULL DEFAULT 0,
		active         INTEGER NOT NULL DEFAULT 1,
		hit_count      INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL,
		last_triggered DATETIME,
		UNIQUE(tenant_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_tenant ON learned_patterns(tenant_id, active);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id     TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		result     TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_tenant_date ON pipeline_runs(tenant_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveFeedback appends one correction event.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, ev *models.FeedbackEvent) error {
	features, err := json.Marshal(ev.Features)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (id, tenant_id, item_id, original_category, corrected_category,
			original_score, corrected_score, rationale, features, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.ItemID, ev.OriginalCategory, ev.CorrectedCategory,
		ev.OriginalScore, ev.CorrectedScore, ev.Rationale, string(features), ev.CreatedAt,
	)
	return err
}

// ListFeedback returns a tenant's events at or after since, oldest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, tenantID string, since time.Time) ([]models.FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, item_id, original_category, corrected_category,
			original_score, corrected_score, rationale, features, created_at
		 FROM feedback_events
		 WHERE tenant_id = ? AND created_at >= ?
		 ORDER BY created_at ASC`,
		tenantID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.FeedbackEvent
	for rows.Next() {
		var ev models.FeedbackEvent
		var features string
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ItemID, &ev.OriginalCategory, &ev.CorrectedCategory,
			&ev.OriginalScore, &ev.CorrectedScore, &ev.Rationale, &features, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if features != "" {
			if err := json.Unmarshal([]byte(features), &ev.Features); err != nil {
				return nil, fmt.Errorf("decoding features for event %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertPattern inserts a pattern or, when the tenant already has one with
// the same name, accumulates its support and reactivates it. The pattern's
// ID field reflects the stored row on return.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *models.LearnedPattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return err
	}
	adjustment, err := json.Marshal(p.Adjustment)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learned_patterns (id, tenant_id, name, conditions, adjustment,
			confidence, support_count, active, hit_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, ?)
		 ON CONFLICT(tenant_id, name) DO UPDATE SET
			conditions    = excluded.conditions,
			adjustment    = excluded.adjustment,
			confidence    = MAX(confidence, excluded.confidence),
			support_count = excluded.support_count,
			active        = 1`,
		p.ID, p.TenantID, p.Name, string(conditions), string(adjustment),
		p.Confidence, p.SupportCount, p.CreatedAt,
	)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx,
		`SELECT id FROM learned_patterns WHERE tenant_id = ? AND name = ?`,
		p.TenantID, p.Name,
	).Scan(&p.ID)
}

// ListPatterns returns a tenant's patterns, optionally active ones only.
func (s *SQLiteStore) ListPatterns(ctx context.Context, tenantID string, activeOnly bool) ([]models.LearnedPattern, error) {
	query := `SELECT id, tenant_id, name, conditions, adjustment, confidence,
			support_count, active, hit_count, created_at, last_triggered
		 FROM learned_patterns WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []models.LearnedPattern
	for rows.Next() {
		var p models.LearnedPattern
		var conditions, adjustment string
		var active int
		var lastTriggered sql.NullTime
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &conditions, &adjustment, &p.Confidence,
			&p.SupportCount, &active, &p.HitCount, &p.CreatedAt, &lastTriggered); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(conditions), &p.Conditions); err != nil {
			return nil, fmt.Errorf("decoding conditions for pattern %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(adjustment), &p.Adjustment); err != nil {
			return nil, fmt.Errorf("decoding adjustment for pattern %s: %w", p.ID, err)
		}
		p.Active = active == 1
		if lastTriggered.Valid {
			p.LastTriggered = lastTriggered.Time
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// RecordPatternHits bumps hit counts and trigger times for the given IDs.
// An ID repeated within one batch counts once per occurrence.
func (s *SQLiteStore) RecordPatternHits(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, n := range counts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE learned_patterns SET hit_count = hit_count + ?, last_triggered = ? WHERE id = ?`,
			n, at, id,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeactivatePatternsBefore retires active patterns whose last trigger (or
// creation, if never triggered) precedes cutoff.
func (s *SQLiteStore) DeactivatePatternsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learned_patterns SET active = 0
		 WHERE active = 1 AND COALESCE(last_triggered, created_at) < ?`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveRun persists one completed pipeline run as a JSON document.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *models.PipelineResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, tenant_id, result, created_at) VALUES (?, ?, ?, ?)`,
		result.RunID, result.TenantID, string(payload), result.CreatedAt,
	)
	return err
}

// GetRun fetches a persisted run by ID, returning ErrNotFound when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.PipelineResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM pipeline_runs WHERE run_id = ?`, runID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var result models.PipelineResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &result, nil
}
