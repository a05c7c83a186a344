package fields

import (
	"testing"

	"github.com/portfoliostack/portfolio-engine/internal/models"
)

func intPtr(v int) *int { return &v }

func cond(field string, op models.ConditionOp, value string) models.Condition {
	return models.Condition{Field: field, Op: op, Value: value}
}

func TestAllowlistIsClosed(t *testing.T) {
	if Allowed("owner") {
		t.Fatalf("owner must not be an allowed field")
	}
	if !Allowed("businessValue") || !Allowed("tags") || !Allowed("dependencyCount") {
		t.Fatalf("expected core fields in the allowlist")
	}
	if MatchItem(cond("owner", models.OpEq, "x"), models.PortfolioItem{Name: "x"}) {
		t.Fatalf("unknown field must never match")
	}
}

func TestAbsentFieldsNeverMatch(t *testing.T) {
	empty := models.PortfolioItem{ID: "a"}
	conds := []models.Condition{
		cond("businessValue", models.OpGte, "0"),
		cond("lifecycle", models.OpNe, "growth"),
		cond("tags", models.OpIncludes, "compliance"),
		cond("activeUsers", models.OpLte, "100"),
	}
	for _, c := range conds {
		if MatchItem(c, empty) {
			t.Fatalf("absent field %s must not match %s", c.Field, c.Op)
		}
	}
}

func TestExplicitZeroActiveUsersIsPresent(t *testing.T) {
	item := models.PortfolioItem{ID: "a", ActiveUsers: intPtr(0)}
	if !MatchItem(cond("activeUsers", models.OpLte, "0"), item) {
		t.Fatalf("explicit zero active users should match lte 0")
	}
}

func TestOperators(t *testing.T) {
	item := models.PortfolioItem{
		ID:            "a",
		Name:          "Payments Gateway",
		BusinessValue: 7,
		Tags:          []string{"Compliance", "core"},
		Dependencies:  []string{"d1", "d2"},
	}
	cases := []struct {
		c    models.Condition
		want bool
	}{
		{cond("businessValue", models.OpEq, "7"), true},
		{cond("businessValue", models.OpNe, "7"), false},
		{cond("businessValue", models.OpGt, "6.5"), true},
		{cond("businessValue", models.OpLt, "7"), false},
		{cond("businessValue", models.OpGte, "7"), true},
		{cond("businessValue", models.OpLte, "6"), false},
		{cond("name", models.OpEq, "payments gateway"), true},
		{cond("name", models.OpContains, "gateway"), true},
		{cond("name", models.OpStartsWith, "pay"), true},
		{cond("name", models.OpStartsWith, "gateway"), false},
		{cond("tags", models.OpIncludes, "compliance"), true},
		{cond("tags", models.OpIncludes, "deprecated"), false},
		{cond("dependencyCount", models.OpEq, "2"), true},
		{cond("businessValue", models.OpGt, "not-a-number"), false},
	}
	for _, tc := range cases {
		if got := MatchItem(tc.c, item); got != tc.want {
			t.Fatalf("%s %s %q: got %v, want %v", tc.c.Field, tc.c.Op, tc.c.Value, got, tc.want)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	item := models.PortfolioItem{
		ID:            "a",
		Name:          "gateway",
		BusinessValue: 7.5,
		Tags:          []string{"compliance", "core"},
		RiskLevel:     models.RiskHigh,
		ActiveUsers:   intPtr(250),
	}
	snap := Snapshot(item)

	if snap["businessValue"] != "7.5" {
		t.Fatalf("unexpected businessValue snapshot: %q", snap["businessValue"])
	}
	if snap["tags"] != "compliance|core" {
		t.Fatalf("unexpected tags snapshot: %q", snap["tags"])
	}
	if _, ok := snap["lifecycle"]; ok {
		t.Fatalf("absent fields must not appear in snapshots")
	}

	// Conditions evaluate identically against the live item and the snapshot.
	conds := []models.Condition{
		cond("businessValue", models.OpGte, "7"),
		cond("tags", models.OpIncludes, "core"),
		cond("riskLevel", models.OpEq, "high"),
		cond("activeUsers", models.OpGt, "100"),
	}
	for _, c := range conds {
		if !MatchItem(c, item) {
			t.Fatalf("live match failed for %s", c.Field)
		}
		if !MatchFeatures(c, snap) {
			t.Fatalf("snapshot match failed for %s", c.Field)
		}
	}
}

func TestMatchFeaturesSingleElementList(t *testing.T) {
	// A one-tag snapshot has no separator but is still a list value.
	snap := map[string]string{"tags": "compliance"}
	if !MatchFeatures(cond("tags", models.OpIncludes, "compliance"), snap) {
		t.Fatalf("includes must match a single-element list snapshot")
	}
	if MatchFeatures(cond("tags", models.OpEq, "compliance"), snap) {
		t.Fatalf("eq does not apply to list fields")
	}
}

func TestMatchFeaturesMissingKey(t *testing.T) {
	if MatchFeatures(cond("roi", models.OpGt, "10"), map[string]string{}) {
		t.Fatalf("missing feature must not match")
	}
}
