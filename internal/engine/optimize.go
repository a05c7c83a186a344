package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// OptimizerConfig bounds the knapsack table. CostGranularity is the number of
// currency units represented by one DP unit; MaxBudgetUnits caps the table
// width, widening the unit adaptively for pathological budgets.
type OptimizerConfig struct {
	CostGranularity float64
	MaxBudgetUnits  int
}

// DefaultOptimizerConfig returns the standard knapsack scaling.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{CostGranularity: 1000, MaxBudgetUnits: 10000}
}

// Scenario names and their fixed qualitative risk ratings.
const (
	ScenarioConservative = "Conservative"
	ScenarioBalanced     = "Balanced"
	ScenarioAggressive   = "Aggressive"

	conservativeRisk = 0.3
	balancedRisk     = 0.5
	aggressiveRisk   = 0.8
)

// Optimizer selects a value-maximising subset of scored items under budget
// and count constraints. DP table construction is pure, in-memory, and
// bounded; no cancellation mechanism is needed.
type Optimizer struct {
	cfg    OptimizerConfig
	logger *slog.Logger
}

// NewOptimizer constructs an optimizer with the supplied bounds.
func NewOptimizer(cfg OptimizerConfig, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CostGranularity <= 0 {
		cfg.CostGranularity = 1000
	}
	if cfg.MaxBudgetUnits <= 0 {
		cfg.MaxBudgetUnits = 10000
	}
	return &Optimizer{cfg: cfg, logger: logger}
}

// candidate pairs a score with its selection cost.
type candidate struct {
	score models.PriorityScore
	cost  float64
}

// Optimize partitions the scored set into selected, deferred, and
// elimination candidates. items supplies per-item costs by ID.
func (o *Optimizer) Optimize(scores []models.PriorityScore, items map[string]models.PortfolioItem, cons models.Constraints, withScenarios bool) models.OptimizationResult {
	result := models.OptimizationResult{
		Selected:              []models.PriorityScore{},
		Deferred:              []models.PriorityScore{},
		EliminationCandidates: []models.PriorityScore{},
	}

	// Items flagged for elimination never enter the selection pool.
	var pool []candidate
	flagged := make(map[string]bool, len(scores))
	for _, s := range scores {
		if s.Recommendation == models.RecommendEliminate || s.Moscow == models.MoscowWont {
			flagged[s.ItemID] = true
			continue
		}
		pool = append(pool, candidate{score: s, cost: costOf(items, s.ItemID)})
	}

	granularity := cons.CostGranularity
	if granularity <= 0 {
		granularity = o.cfg.CostGranularity
	}
	maxUnits := cons.MaxTableCells
	if maxUnits <= 0 {
		maxUnits = o.cfg.MaxBudgetUnits
	}

	var selected []candidate
	if cons.TotalBudget <= 0 || cons.PreferGreedy {
		selected = greedyByRatio(pool, cons.TotalBudget)
	} else {
		selected = knapsack(pool, cons.TotalBudget, granularity, maxUnits)
	}

	if cons.MaxItems > 0 && len(selected) > cons.MaxItems {
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].score.OverallScore > selected[j].score.OverallScore
		})
		selected = selected[:cons.MaxItems]
	}

	selectedIDs := make(map[string]bool, len(selected))
	for _, c := range selected {
		selectedIDs[c.score.ItemID] = true
	}

	// Full must-have coverage: force-include every must_have item, recording
	// each forced inclusion as a named violation instead of silently dropping
	// the constraint when the budget breaks.
	if cons.FullMustHaveCoverage() {
		for _, c := range pool {
			if c.score.Moscow != models.MoscowMust || selectedIDs[c.score.ItemID] {
				continue
			}
			selected = append(selected, c)
			selectedIDs[c.score.ItemID] = true
			result.ConstraintViolations = append(result.ConstraintViolations,
				fmt.Sprintf("must-have coverage: item %s force-included (cost %.2f)", c.score.ItemID, c.cost))
		}
	}

	var totalValue, totalCost float64
	for _, c := range selected {
		result.Selected = append(result.Selected, c.score)
		totalValue += c.score.OverallScore
		totalCost += c.cost
	}
	result.TotalValue = totalValue
	result.TotalCost = totalCost

	if cons.TotalBudget > 0 && totalCost > cons.TotalBudget {
		result.ConstraintViolations = append(result.ConstraintViolations,
			fmt.Sprintf("total cost %.2f exceeds budget %.2f", totalCost, cons.TotalBudget))
	}

	// Remaining items split into deferred and elimination candidates;
	// deferred sorts descending by score so a re-run considers them first.
	for _, s := range scores {
		if selectedIDs[s.ItemID] {
			continue
		}
		if flagged[s.ItemID] {
			result.EliminationCandidates = append(result.EliminationCandidates, s)
		} else {
			result.Deferred = append(result.Deferred, s)
		}
	}
	sort.SliceStable(result.Deferred, func(i, j int) bool {
		return result.Deferred[i].OverallScore > result.Deferred[j].OverallScore
	})

	o.checkShouldCoverage(&result, scores, selectedIDs, cons)
	o.computeMetrics(&result, scores, selectedIDs)

	if withScenarios {
		result.Scenarios = o.scenarios(pool, selected, cons)
	}
	return result
}

func (o *Optimizer) checkShouldCoverage(result *models.OptimizationResult, scores []models.PriorityScore, selectedIDs map[string]bool, cons models.Constraints) {
	if cons.MinCoverage.ShouldHave <= 0 {
		return
	}
	total, covered := 0, 0
	for _, s := range scores {
		if s.Moscow != models.MoscowShould {
			continue
		}
		total++
		if selectedIDs[s.ItemID] {
			covered++
		}
	}
	if total == 0 {
		return
	}
	fraction := float64(covered) / float64(total)
	if fraction < cons.MinCoverage.ShouldHave {
		result.ConstraintViolations = append(result.ConstraintViolations,
			fmt.Sprintf("should-have coverage %.2f below requested %.2f", fraction, cons.MinCoverage.ShouldHave))
	}
}

func (o *Optimizer) computeMetrics(result *models.OptimizationResult, scores []models.PriorityScore, selectedIDs map[string]bool) {
	var confSum, retSum float64
	moscowBuckets := make(map[models.MoscowLabel]bool)
	recBuckets := make(map[models.Recommendation]bool)
	minScore, maxScore := math.MaxFloat64, -math.MaxFloat64

	n := len(result.Selected)
	for _, s := range result.Selected {
		confSum += s.Confidence
		retSum += s.RetentionIndex
		moscowBuckets[s.Moscow] = true
		recBuckets[s.Recommendation] = true
		minScore = math.Min(minScore, s.OverallScore)
		maxScore = math.Max(maxScore, s.OverallScore)
	}

	if n > 0 {
		meanConf := confSum / float64(n)
		meanRet := retSum / float64(n)
		result.RiskScore = clamp(1-(meanConf*0.5+meanRet*0.5), 0, 1)

		spread := (maxScore - minScore) / 100
		sizeBonus := math.Min(float64(n)/10, 1)
		result.DiversificationIndex = clamp(
			0.3*float64(len(moscowBuckets))/4+
				0.3*float64(len(recBuckets))/4+
				0.2*spread+
				0.2*sizeBonus, 0, 1)
	} else {
		result.RiskScore = 1
	}

	mustTotal, mustCovered := 0, 0
	for _, s := range scores {
		if s.Moscow != models.MoscowMust {
			continue
		}
		mustTotal++
		if selectedIDs[s.ItemID] {
			mustCovered++
		}
	}
	if mustTotal == 0 {
		result.StrategicCoverage = 1
	} else {
		result.StrategicCoverage = float64(mustCovered) / float64(mustTotal)
	}
}

// scenarios always produces exactly three named what-ifs.
func (o *Optimizer) scenarios(pool, balanced []candidate, cons models.Constraints) []models.Scenario {
	var conservative []candidate
	for _, c := range pool {
		if c.score.Moscow == models.MoscowMust || c.score.Moscow == models.MoscowShould {
			conservative = append(conservative, c)
		}
	}

	aggressive := greedyByScore(pool, cons.TotalBudget)

	return []models.Scenario{
		buildScenario(ScenarioConservative, conservative, conservativeRisk),
		buildScenario(ScenarioBalanced, balanced, balancedRisk),
		buildScenario(ScenarioAggressive, aggressive, aggressiveRisk),
	}
}

func buildScenario(name string, selection []candidate, risk float64) models.Scenario {
	sc := models.Scenario{
		Name:       name,
		ItemIDs:    make([]string, 0, len(selection)),
		RiskRating: risk,
		Coverage:   make(map[models.Recommendation]int),
	}
	for _, c := range selection {
		sc.ItemIDs = append(sc.ItemIDs, c.score.ItemID)
		sc.TotalValue += c.score.OverallScore
		sc.TotalCost += c.cost
		sc.Coverage[c.score.Recommendation]++
	}
	return sc
}

// greedyByRatio sorts descending by value/cost ratio and accepts while budget
// remains. A non-positive budget accepts everything.
func greedyByRatio(pool []candidate, budget float64) []candidate {
	ordered := append([]candidate(nil), pool...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ratio(ordered[i]) > ratio(ordered[j])
	})

	var selected []candidate
	remaining := budget
	for _, c := range ordered {
		if budget > 0 && c.cost > remaining {
			continue
		}
		selected = append(selected, c)
		remaining -= c.cost
	}
	return selected
}

// greedyByScore accepts highest-scored items first, never exceeding budget.
func greedyByScore(pool []candidate, budget float64) []candidate {
	ordered := append([]candidate(nil), pool...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].score.OverallScore > ordered[j].score.OverallScore
	})

	var selected []candidate
	remaining := budget
	for _, c := range ordered {
		if budget > 0 && c.cost > remaining {
			continue
		}
		selected = append(selected, c)
		remaining -= c.cost
	}
	return selected
}

func ratio(c candidate) float64 {
	if c.cost <= 0 {
		return math.MaxFloat64
	}
	return c.score.OverallScore / c.cost
}

// knapsack solves the 0/1 selection with dynamic programming. Costs scale
// down to coarse units; the table is built forward and the selection is
// recovered by backtracking from the final cell.
func knapsack(pool []candidate, budget, granularity float64, maxUnits int) []candidate {
	if len(pool) == 0 {
		return nil
	}

	unit := granularity
	if budget/unit > float64(maxUnits) {
		// Widen the unit rather than let the table grow without bound; the
		// precision loss is deliberate and bounded by maxUnits.
		unit = budget / float64(maxUnits)
	}
	width := int(math.Floor(budget/unit)) + 1

	weights := make([]int, len(pool))
	for i, c := range pool {
		weights[i] = int(math.Ceil(c.cost / unit))
	}

	dp := make([][]float64, len(pool)+1)
	for i := range dp {
		dp[i] = make([]float64, width)
	}
	for i := 1; i <= len(pool); i++ {
		value := pool[i-1].score.OverallScore
		w := weights[i-1]
		for cap := 0; cap < width; cap++ {
			dp[i][cap] = dp[i-1][cap]
			if w <= cap && dp[i-1][cap-w]+value > dp[i][cap] {
				dp[i][cap] = dp[i-1][cap-w] + value
			}
		}
	}

	var selected []candidate
	cap := width - 1
	for i := len(pool); i > 0; i-- {
		if dp[i][cap] != dp[i-1][cap] {
			selected = append(selected, pool[i-1])
			cap -= weights[i-1]
			if cap < 0 {
				cap = 0
			}
		}
	}
	// Backtracking walks items last-to-first; restore input order.
	for left, right := 0, len(selected)-1; left < right; left, right = left+1, right-1 {
		selected[left], selected[right] = selected[right], selected[left]
	}
	return selected
}

func costOf(items map[string]models.PortfolioItem, itemID string) float64 {
	item, ok := items[itemID]
	if !ok {
		return 0
	}
	return item.Cost()
}
