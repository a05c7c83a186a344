package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/portfoliostack/portfolio-engine/internal/cache"
	"github.com/portfoliostack/portfolio-engine/internal/fields"
	"github.com/portfoliostack/portfolio-engine/internal/models"
	"github.com/portfoliostack/portfolio-engine/internal/utils"
)

// Store persists feedback events and learned patterns. Implementations must
// keep tenants fully isolated.
type Store interface {
	SaveFeedback(ctx context.Context, ev *models.FeedbackEvent) error
	ListFeedback(ctx context.Context, tenantID string, since time.Time) ([]models.FeedbackEvent, error)
	UpsertPattern(ctx context.Context, p *models.LearnedPattern) error
	ListPatterns(ctx context.Context, tenantID string, activeOnly bool) ([]models.LearnedPattern, error)
	RecordPatternHits(ctx context.Context, ids []string, at time.Time) error
	DeactivatePatternsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes the mining and decay behavior.
type Config struct {
	// MinSupport is the minimum number of agreeing corrections before a
	// pattern is produced.
	MinSupport int
	// SharedFraction is the fraction of group events that must share a
	// feature value for it to become a pattern condition.
	SharedFraction float64
	// MinScoreDelta filters out noise corrections when mining additive
	// patterns.
	MinScoreDelta float64
	// MinConfidence is the floor below which stored patterns are ignored
	// at application time.
	MinConfidence float64
	// FeedbackWindow bounds how far back mining looks.
	FeedbackWindow time.Duration
	// DecayAfter deactivates patterns not triggered for this long.
	DecayAfter time.Duration
	// CacheTTL bounds the read-through pattern cache.
	CacheTTL time.Duration
}

// DefaultConfig returns the standard learner tuning.
func DefaultConfig() Config {
	return Config{
		MinSupport:     3,
		SharedFraction: 0.7,
		MinScoreDelta:  5,
		MinConfidence:  0.5,
		FeedbackWindow: 180 * 24 * time.Hour,
		DecayAfter:     90 * 24 * time.Hour,
		CacheTTL:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSupport <= 0 {
		c.MinSupport = d.MinSupport
	}
	if c.SharedFraction <= 0 || c.SharedFraction > 1 {
		c.SharedFraction = d.SharedFraction
	}
	if c.MinScoreDelta <= 0 {
		c.MinScoreDelta = d.MinScoreDelta
	}
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		c.MinConfidence = d.MinConfidence
	}
	if c.FeedbackWindow <= 0 {
		c.FeedbackWindow = d.FeedbackWindow
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = d.DecayAfter
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Learner mines reusable adjustment patterns from user corrections and
// applies them to fresh scores. Active patterns are served through a
// read-through cache keyed per tenant.
type Learner struct {
	store  Store
	cache  cache.Provider
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewLearner constructs a learner. The cache provider may be nil; lookups
// then always hit the store.
func NewLearner(store Store, cacheProvider cache.Provider, cfg Config, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewNoopProvider()
	}
	return &Learner{
		store:  store,
		cache:  cacheProvider,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Record validates and persists one feedback event. The item feature
// snapshot travels with the event so mining never needs the live item.
func (l *Learner) Record(ctx context.Context, ev *models.FeedbackEvent, item *models.PortfolioItem) error {
	if ev.TenantID == "" {
		return utils.NewAppError("learner.record", "tenantId is required", nil)
	}
	if ev.ItemID == "" {
		return utils.NewAppError("learner.record", "itemId is required", nil)
	}
	if ev.CorrectedCategory != "" && !models.ValidMoscowLabel(ev.CorrectedCategory) {
		return utils.NewAppError("learner.record", fmt.Sprintf("invalid corrected category %q", ev.CorrectedCategory), nil)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	if len(ev.Features) == 0 && item != nil {
		ev.Features = fields.Snapshot(*item)
	}
	if err := l.store.SaveFeedback(ctx, ev); err != nil {
		return utils.NewAppError("learner.record", "persisting feedback failed", err)
	}
	l.invalidate(ctx, ev.TenantID)
	return nil
}

// Mine derives patterns from the tenant's recent corrections and upserts
// them. It returns the patterns produced by this pass.
func (l *Learner) Mine(ctx context.Context, tenantID string) ([]models.LearnedPattern, error) {
	if tenantID == "" {
		return nil, utils.NewAppError("learner.mine", "tenantId is required", nil)
	}
	since := l.now().Add(-l.cfg.FeedbackWindow)
	events, err := l.store.ListFeedback(ctx, tenantID, since)
	if err != nil {
		return nil, utils.NewAppError("learner.mine", "loading feedback failed", err)
	}

	mined := append(l.mineCategoryPatterns(tenantID, events), l.mineScorePatterns(tenantID, events)...)
	for i := range mined {
		if err := l.store.UpsertPattern(ctx, &mined[i]); err != nil {
			return nil, utils.NewAppError("learner.mine", "persisting pattern failed", err)
		}
	}
	if len(mined) > 0 {
		l.invalidate(ctx, tenantID)
	}
	l.logger.Info("pattern mining complete", "tenant_id", tenantID, "events", len(events), "patterns", len(mined))
	return mined, nil
}

// mineCategoryPatterns groups category corrections by original->corrected
// transition and emits an override pattern per well-supported group.
func (l *Learner) mineCategoryPatterns(tenantID string, events []models.FeedbackEvent) []models.LearnedPattern {
	groups := make(map[string][]models.FeedbackEvent)
	for _, ev := range events {
		if !ev.CategoryCorrection() {
			continue
		}
		key := string(ev.OriginalCategory) + ">" + string(ev.CorrectedCategory)
		groups[key] = append(groups[key], ev)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []models.LearnedPattern
	for _, key := range keys {
		group := groups[key]
		if len(group) < l.cfg.MinSupport {
			continue
		}
		conds := l.sharedConditions(group)
		if len(conds) == 0 {
			continue
		}
		corrected := group[0].CorrectedCategory
		out = append(out, models.LearnedPattern{
			TenantID:   tenantID,
			Name:       fmt.Sprintf("category-%s-to-%s", orUnset(group[0].OriginalCategory), corrected),
			Conditions: conds,
			Adjustment: models.Adjustment{
				Kind:     models.AdjustOverride,
				Target:   models.TargetCategory,
				Category: corrected,
			},
			Confidence:   supportConfidence(len(group)),
			SupportCount: len(group),
			Active:       true,
			CreatedAt:    l.now(),
		})
	}
	return out
}

// mineScorePatterns groups consistent-direction score corrections and emits
// an additive pattern carrying the group's mean delta.
func (l *Learner) mineScorePatterns(tenantID string, events []models.FeedbackEvent) []models.LearnedPattern {
	var up, down []models.FeedbackEvent
	for _, ev := range events {
		delta := ev.ScoreDelta()
		switch {
		case delta >= l.cfg.MinScoreDelta:
			up = append(up, ev)
		case delta <= -l.cfg.MinScoreDelta:
			down = append(down, ev)
		}
	}

	var out []models.LearnedPattern
	for _, group := range [][]models.FeedbackEvent{up, down} {
		if len(group) < l.cfg.MinSupport {
			continue
		}
		conds := l.sharedConditions(group)
		if len(conds) == 0 {
			continue
		}
		var sum float64
		for _, ev := range group {
			sum += ev.ScoreDelta()
		}
		mean := sum / float64(len(group))
		name := "score-boost"
		if mean < 0 {
			name = "score-penalty"
		}
		out = append(out, models.LearnedPattern{
			TenantID:   tenantID,
			Name:       name,
			Conditions: conds,
			Adjustment: models.Adjustment{
				Kind:   models.AdjustAdd,
				Target: models.TargetOverall,
				Value:  mean,
			},
			Confidence:   supportConfidence(len(group)),
			SupportCount: len(group),
			Active:       true,
			CreatedAt:    l.now(),
		})
	}
	return out
}

// sharedConditions returns a condition for every feature value present in at
// least SharedFraction of the group's events. Scalar fields produce eq
// conditions; list fields are counted per element and produce includes
// conditions, so the result matches live items again at application time.
func (l *Learner) sharedConditions(group []models.FeedbackEvent) []models.Condition {
	type pair struct{ field, value string }
	counts := make(map[pair]int)
	for _, ev := range group {
		for field, value := range ev.Features {
			if !fields.Allowed(field) || value == "" {
				continue
			}
			if fields.ListField(field) {
				for _, entry := range fields.SplitList(value) {
					if entry != "" {
						counts[pair{field, entry}]++
					}
				}
				continue
			}
			counts[pair{field, value}]++
		}
	}

	threshold := int(float64(len(group))*l.cfg.SharedFraction + 0.5)
	if threshold < 1 {
		threshold = 1
	}

	var conds []models.Condition
	for p, n := range counts {
		if n < threshold {
			continue
		}
		op := models.OpEq
		if fields.ListField(p.field) {
			op = models.OpIncludes
		}
		conds = append(conds, models.Condition{Field: p.field, Op: op, Value: p.value})
	}
	sort.Slice(conds, func(i, j int) bool {
		if conds[i].Field != conds[j].Field {
			return conds[i].Field < conds[j].Field
		}
		return conds[i].Value < conds[j].Value
	})
	return conds
}

// AdjustScores applies the tenant's active patterns to the score set in
// place and returns how many adjustments fired. Patterns apply in ID order
// so repeated runs over the same input stay deterministic.
func (l *Learner) AdjustScores(ctx context.Context, tenantID string, scores []models.PriorityScore, items map[string]models.PortfolioItem) (int, error) {
	patterns, err := l.activePatterns(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if len(patterns) == 0 {
		return 0, nil
	}

	applied := 0
	var hitIDs []string
	for i := range scores {
		item, ok := items[scores[i].ItemID]
		if !ok {
			continue
		}
		for _, p := range patterns {
			if !matchesAll(p.Conditions, item) {
				continue
			}
			apply(&scores[i], p)
			applied++
			hitIDs = append(hitIDs, p.ID)
		}
	}

	if len(hitIDs) > 0 {
		if err := l.store.RecordPatternHits(ctx, hitIDs, l.now()); err != nil {
			// Hit bookkeeping is advisory; the adjustment already happened.
			l.logger.Warn("recording pattern hits failed", "error", err)
		}
	}
	return applied, nil
}

// Decay deactivates patterns that have not triggered within the configured
// window and returns how many were retired.
func (l *Learner) Decay(ctx context.Context) (int64, error) {
	cutoff := l.now().Add(-l.cfg.DecayAfter)
	n, err := l.store.DeactivatePatternsBefore(ctx, cutoff)
	if err != nil {
		return 0, utils.NewAppError("learner.decay", "deactivating stale patterns failed", err)
	}
	if n > 0 {
		l.logger.Info("stale patterns deactivated", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Patterns lists the tenant's patterns straight from the store.
func (l *Learner) Patterns(ctx context.Context, tenantID string, activeOnly bool) ([]models.LearnedPattern, error) {
	return l.store.ListPatterns(ctx, tenantID, activeOnly)
}

func (l *Learner) activePatterns(ctx context.Context, tenantID string) ([]models.LearnedPattern, error) {
	key := cacheKey(tenantID)
	if data, err := l.cache.Get(ctx, key); err == nil {
		var cached []models.LearnedPattern
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return l.confident(cached), nil
		}
		// Unreadable entry; fall through to the store and rewrite it.
	}

	patterns, err := l.store.ListPatterns(ctx, tenantID, true)
	if err != nil {
		return nil, utils.NewAppError("learner.adjust", "loading patterns failed", err)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })

	if data, err := json.Marshal(patterns); err == nil {
		if err := l.cache.Set(ctx, key, data, l.cfg.CacheTTL); err != nil {
			l.logger.Warn("pattern cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return l.confident(patterns), nil
}

// confident drops patterns below the application confidence floor. The cache
// keeps the full active set so the floor can be tuned without invalidation.
func (l *Learner) confident(patterns []models.LearnedPattern) []models.LearnedPattern {
	kept := patterns[:0:0]
	for _, p := range patterns {
		if p.Confidence >= l.cfg.MinConfidence {
			kept = append(kept, p)
		}
	}
	return kept
}

func (l *Learner) invalidate(ctx context.Context, tenantID string) {
	if err := l.cache.Del(ctx, cacheKey(tenantID)); err != nil {
		l.logger.Warn("pattern cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}

func cacheKey(tenantID string) string {
	return "patterns:" + tenantID
}

func matchesAll(conds []models.Condition, item models.PortfolioItem) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !fields.MatchItem(c, item) {
			return false
		}
	}
	return true
}

// apply mutates one score with a pattern's adjustment. Overall scores stay
// clamped to [0,100]; a category override replaces only the MoSCoW label and
// leaves the recommendation to the scoring engine.
func apply(score *models.PriorityScore, p models.LearnedPattern) {
	switch p.Adjustment.Kind {
	case models.AdjustMultiply:
		score.OverallScore = clampScore(score.OverallScore * p.Adjustment.Value)
	case models.AdjustAdd:
		score.OverallScore = clampScore(score.OverallScore + p.Adjustment.Value)
	case models.AdjustOverride:
		if models.ValidMoscowLabel(p.Adjustment.Category) {
			score.Moscow = p.Adjustment.Category
		}
	}
	score.Reasoning = append(score.Reasoning, fmt.Sprintf("learned pattern %s applied", p.Name))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// supportConfidence grows with support and saturates at 0.95.
func supportConfidence(support int) float64 {
	conf := 0.5 + 0.05*float64(support)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func orUnset(label models.MoscowLabel) string {
	if label == "" {
		return "unset"
	}
	return string(label)
}
