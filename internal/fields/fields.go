// Package fields provides typed access to portfolio item attributes for rule
// and pattern conditions. Field names are restricted to a closed allowlist;
// there is no reflection and no open-ended lookup.
package fields

import (
	"sort"
	"strconv"
	"strings"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

// Kind discriminates the value shapes a field can produce.
type Kind int

const (
	KindAbsent Kind = iota
	KindNumber
	KindString
	KindList
)

// Value is the typed result of a field lookup.
type Value struct {
	Kind   Kind
	Number float64
	Str    string
	List   []string
}

type accessor func(models.PortfolioItem) Value

func number(v float64) Value {
	if v <= 0 {
		return Value{Kind: KindAbsent}
	}
	return Value{Kind: KindNumber, Number: v}
}

func str(v string) Value {
	if v == "" {
		return Value{Kind: KindAbsent}
	}
	return Value{Kind: KindString, Str: v}
}

func list(v []string) Value {
	if len(v) == 0 {
		return Value{Kind: KindAbsent}
	}
	return Value{Kind: KindList, List: v}
}

var accessors = map[string]accessor{
	"name":     func(p models.PortfolioItem) Value { return str(p.Name) },
	"type":     func(p models.PortfolioItem) Value { return str(string(p.Type)) },
	"category": func(p models.PortfolioItem) Value { return str(p.Category) },
	"tags":     func(p models.PortfolioItem) Value { return list(p.Tags) },
	"businessValue": func(p models.PortfolioItem) Value {
		return number(p.BusinessValue)
	},
	"strategicAlignment": func(p models.PortfolioItem) Value {
		return number(p.StrategicAlignment)
	},
	"roi":        func(p models.PortfolioItem) Value { return number(p.ROI) },
	"riskLevel":  func(p models.PortfolioItem) Value { return str(string(p.RiskLevel)) },
	"complexity": func(p models.PortfolioItem) Value { return str(string(p.Complexity)) },
	"lifecycle":  func(p models.PortfolioItem) Value { return str(string(p.Lifecycle)) },
	"budget":     func(p models.PortfolioItem) Value { return number(p.Budget) },
	"estimatedCost": func(p models.PortfolioItem) Value {
		return number(p.EstimatedCost)
	},
	"activeUsers": func(p models.PortfolioItem) Value {
		if p.ActiveUsers == nil {
			return Value{Kind: KindAbsent}
		}
		return Value{Kind: KindNumber, Number: float64(*p.ActiveUsers)}
	},
	"dependencies": func(p models.PortfolioItem) Value { return list(p.Dependencies) },
	"dependencyCount": func(p models.PortfolioItem) Value {
		return Value{Kind: KindNumber, Number: float64(len(p.Dependencies))}
	},
}

// Allowed reports whether the field name belongs to the allowlist.
func Allowed(field string) bool {
	_, ok := accessors[field]
	return ok
}

// Names returns the sorted field allowlist.
func Names() []string {
	names := make([]string, 0, len(accessors))
	for name := range accessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListField reports whether the field carries multiple values.
func ListField(field string) bool {
	return field == "tags" || field == "dependencies"
}

// SplitList breaks a snapshot value for a list field into its elements.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, listSeparator)
}

// Lookup resolves a field against an item. Unknown fields resolve to absent.
func Lookup(item models.PortfolioItem, field string) Value {
	fn, ok := accessors[field]
	if !ok {
		return Value{Kind: KindAbsent}
	}
	return fn(item)
}

// MatchItem evaluates a condition against an item. Absent fields never match.
func MatchItem(cond models.Condition, item models.PortfolioItem) bool {
	return matchValue(cond, Lookup(item, cond.Field))
}

// MatchFeatures evaluates a condition against a stringified feature snapshot,
// the form feedback events carry. Numeric operators parse both sides.
func MatchFeatures(cond models.Condition, features map[string]string) bool {
	raw, ok := features[cond.Field]
	if !ok || raw == "" {
		return false
	}
	if ListField(cond.Field) {
		return matchValue(cond, Value{Kind: KindList, List: SplitList(raw)})
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return matchValue(cond, Value{Kind: KindNumber, Number: n})
	}
	return matchValue(cond, Value{Kind: KindString, Str: raw})
}

func matchValue(cond models.Condition, v Value) bool {
	if v.Kind == KindAbsent {
		return false
	}

	switch cond.Op {
	case models.OpEq:
		if v.Kind == KindNumber {
			n, err := strconv.ParseFloat(cond.Value, 64)
			return err == nil && v.Number == n
		}
		return v.Kind == KindString && strings.EqualFold(v.Str, cond.Value)
	case models.OpNe:
		if v.Kind == KindNumber {
			n, err := strconv.ParseFloat(cond.Value, 64)
			return err == nil && v.Number != n
		}
		return v.Kind == KindString && !strings.EqualFold(v.Str, cond.Value)
	case models.OpGt, models.OpLt, models.OpGte, models.OpLte:
		if v.Kind != KindNumber {
			return false
		}
		n, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false
		}
		switch cond.Op {
		case models.OpGt:
			return v.Number > n
		case models.OpLt:
			return v.Number < n
		case models.OpGte:
			return v.Number >= n
		default:
			return v.Number <= n
		}
	case models.OpContains:
		return v.Kind == KindString && strings.Contains(strings.ToLower(v.Str), strings.ToLower(cond.Value))
	case models.OpStartsWith:
		return v.Kind == KindString && strings.HasPrefix(strings.ToLower(v.Str), strings.ToLower(cond.Value))
	case models.OpIncludes:
		if v.Kind != KindList {
			return false
		}
		for _, entry := range v.List {
			if strings.EqualFold(entry, cond.Value) {
				return true
			}
		}
		return false
	}
	return false
}

// listSeparator joins list fields in feature snapshots. A pipe never occurs
// in tag or dependency identifiers.
const listSeparator = "|"

// Snapshot stringifies every present field of an item, the form stored on
// feedback events and consumed by pattern mining.
func Snapshot(item models.PortfolioItem) map[string]string {
	snap := make(map[string]string, len(accessors))
	for name, fn := range accessors {
		v := fn(item)
		switch v.Kind {
		case KindNumber:
			snap[name] = strconv.FormatFloat(v.Number, 'f', -1, 64)
		case KindString:
			snap[name] = v.Str
		case KindList:
			snap[name] = strings.Join(v.List, listSeparator)
		}
	}
	return snap
}
