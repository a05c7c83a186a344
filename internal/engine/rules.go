package engine

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/portfoliostack/portfolio-engine/internal/fields"
	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// Rule is a static triage rule: a conjunction of field conditions mapped to a
// MoSCoW category. Confidence is a property of the rule, not computed per
// item.
type Rule struct {
	Name       string                `yaml:"name" json:"name"`
	Category   models.TriageCategory `yaml:"category" json:"category"`
	Confidence float64               `yaml:"confidence" json:"confidence"`
	Priority   int                   `yaml:"priority" json:"priority"`
	Conditions []models.Condition    `yaml:"conditions" json:"conditions"`
}

// Matches reports whether every condition of the rule holds for the item.
func (r Rule) Matches(item models.PortfolioItem) bool {
	for _, cond := range r.Conditions {
		if !fields.MatchItem(cond, item) {
			return false
		}
	}
	return true
}

// RuleSet holds triage rules in evaluation order. Conflicts between rules are
// resolved purely by declared priority: the first rule whose conditions all
// hold wins.
type RuleSet struct {
	rules []Rule
}

// rulePackFile is the YAML root for tenant-supplied rule packs.
type rulePackFile struct {
	Rules []Rule `yaml:"rules"`
}

// BuiltinRules returns the default rule set, in priority order: compliance,
// security, critical-infrastructure, and strategic-value rules first, then
// end-of-life / duplicate / low-usage "won't" rules, then "should" and
// "could" rules.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name: "compliance-mandate", Category: models.TriageMust, Confidence: 0.95, Priority: 10,
			Conditions: []models.Condition{{Field: "tags", Op: models.OpIncludes, Value: "compliance"}},
		},
		{
			Name: "compliance-category", Category: models.TriageMust, Confidence: 0.95, Priority: 11,
			Conditions: []models.Condition{{Field: "category", Op: models.OpContains, Value: "compliance"}},
		},
		{
			Name: "security-mandate", Category: models.TriageMust, Confidence: 0.95, Priority: 20,
			Conditions: []models.Condition{{Field: "tags", Op: models.OpIncludes, Value: "security"}},
		},
		{
			Name: "regulatory-mandate", Category: models.TriageMust, Confidence: 0.95, Priority: 21,
			Conditions: []models.Condition{{Field: "tags", Op: models.OpIncludes, Value: "regulatory"}},
		},
		{
			Name: "critical-infrastructure", Category: models.TriageMust, Confidence: 0.9, Priority: 30,
			Conditions: []models.Condition{
				{Field: "riskLevel", Op: models.OpEq, Value: "critical"},
				{Field: "businessValue", Op: models.OpGte, Value: "7"},
			},
		},
		{
			Name: "strategic-value", Category: models.TriageMust, Confidence: 0.85, Priority: 40,
			Conditions: []models.Condition{
				{Field: "strategicAlignment", Op: models.OpGte, Value: "8"},
				{Field: "businessValue", Op: models.OpGte, Value: "7"},
			},
		},
		{
			Name: "end-of-life", Category: models.TriageWont, Confidence: 0.9, Priority: 50,
			Conditions: []models.Condition{{Field: "lifecycle", Op: models.OpEq, Value: "end_of_life"}},
		},
		{
			Name: "deprecated", Category: models.TriageWont, Confidence: 0.85, Priority: 51,
			Conditions: []models.Condition{{Field: "tags", Op: models.OpIncludes, Value: "deprecated"}},
		},
		{
			Name: "duplicate", Category: models.TriageWont, Confidence: 0.85, Priority: 52,
			Conditions: []models.Condition{{Field: "tags", Op: models.OpIncludes, Value: "duplicate"}},
		},
		{
			Name: "abandoned", Category: models.TriageWont, Confidence: 0.8, Priority: 53,
			Conditions: []models.Condition{
				{Field: "activeUsers", Op: models.OpLte, Value: "0"},
				{Field: "lifecycle", Op: models.OpEq, Value: "decline"},
			},
		},
		{
			Name: "high-value", Category: models.TriageShould, Confidence: 0.75, Priority: 60,
			Conditions: []models.Condition{{Field: "businessValue", Op: models.OpGte, Value: "7"}},
		},
		{
			Name: "well-aligned", Category: models.TriageShould, Confidence: 0.7, Priority: 61,
			Conditions: []models.Condition{{Field: "strategicAlignment", Op: models.OpGte, Value: "7"}},
		},
		{
			Name: "moderate-value", Category: models.TriageCould, Confidence: 0.65, Priority: 70,
			Conditions: []models.Condition{{Field: "businessValue", Op: models.OpGte, Value: "4"}},
		},
	}
}

// NewRuleSet validates and orders the supplied rules. Validation failures are
// configuration errors and must surface before any item is processed.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	ordered := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return nil, err
		}
		ordered = append(ordered, rule)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &RuleSet{rules: ordered}, nil
}

// LoadRulePack reads tenant rules from a YAML file and appends them to the
// built-in set. An empty path yields the built-in rules alone; a missing file
// is a configuration error.
func LoadRulePack(path string) (*RuleSet, error) {
	rules := BuiltinRules()
	if path == "" {
		return NewRuleSet(rules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack %s: %w", path, err)
	}
	var pack rulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	for i := range pack.Rules {
		if pack.Rules[i].Priority == 0 {
			// Tenant rules without explicit priority evaluate after built-ins.
			pack.Rules[i].Priority = 100 + i
		}
	}
	return NewRuleSet(append(rules, pack.Rules...))
}

// Match returns the first rule, in priority order, whose conditions all hold.
func (s *RuleSet) Match(item models.PortfolioItem) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	for _, rule := range s.rules {
		if rule.Matches(item) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

func validateRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("rule %q has no conditions", rule.Name)
	}
	if !models.ValidTriageCategory(rule.Category) || rule.Category == models.TriageUnknown {
		return fmt.Errorf("rule %q has invalid category %q", rule.Name, rule.Category)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return fmt.Errorf("rule %q confidence %v outside [0,1]", rule.Name, rule.Confidence)
	}
	for _, cond := range rule.Conditions {
		if !fields.Allowed(cond.Field) {
			return fmt.Errorf("rule %q references unknown field %q", rule.Name, cond.Field)
		}
		switch cond.Op {
		case models.OpEq, models.OpNe, models.OpGt, models.OpLt, models.OpGte, models.OpLte,
			models.OpContains, models.OpStartsWith, models.OpIncludes:
		default:
			return fmt.Errorf("rule %q uses unknown operator %q", rule.Name, cond.Op)
		}
	}
	return nil
}
