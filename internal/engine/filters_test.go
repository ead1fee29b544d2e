package engine

import (
	"testing"
)

func filterGen(t *testing.T) *FilterGenerator {
	t.Helper()
	reg := testRegistry(t)
	return NewFilterGenerator(customerEntity(t, reg), reg, nil, []string{"name", "contacts.email"})
}

func TestFilterOperatorTotality(t *testing.T) {
	g := filterGen(t)

	valid := map[string]string{
		"eq":    "name eq alice",
		"ne":    "name ne alice",
		"gt":    "name gt a",
		"gte":   "name gte a",
		"ge":    "name ge a",
		"lt":    "name lt z",
		"lte":   "name lte z",
		"le":    "name le z",
		"like":  "name like ali",
		"ct":    "name ct ali",
		"in":    "status in active, pending",
		"notIn": "status notIn archived, deleted",
		"is":    "status is null",
		"not":   "status not null",
		"isNot": "status isNot null",
	}
	for op, spec := range valid {
		if _, _, err := g.buildFilter(spec); err != nil {
			t.Fatalf("operator %s rejected: %v", op, err)
		}
	}

	_, _, err := g.buildFilter("name equals alice")
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_OPERATOR" {
		t.Fatalf("expected INVALID_OPERATOR, got %v", err)
	}
}

func TestFilterLikeWrapsValue(t *testing.T) {
	g := filterGen(t)
	clause, _, err := g.buildFilter("name ct ali")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if clause.Op != "LIKE" || clause.Value != "%ali%" {
		t.Fatalf("expected LIKE %%ali%%, got %s %v", clause.Op, clause.Value)
	}
}

func TestFilterInSplitsOnComma(t *testing.T) {
	g := filterGen(t)
	clause, _, err := g.buildFilter("status in active, pending ,closed")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	values, ok := clause.Value.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", clause.Value)
	}
	want := []any{"active", "pending", "closed"}
	if len(values) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(values))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("value %d: expected %v, got %v", i, want[i], values[i])
		}
	}
}

func TestFilterIsSemantics(t *testing.T) {
	g := filterGen(t)

	clause, _, err := g.buildFilter("status is null")
	if err != nil {
		t.Fatalf("is null: %v", err)
	}
	if clause.Op != "IS" || clause.Value != nil {
		t.Fatalf("expected IS NULL clause, got %+v", clause)
	}

	// "is empty" degrades to equality against the empty string
	clause, _, err = g.buildFilter("status is empty")
	if err != nil {
		t.Fatalf("is empty: %v", err)
	}
	if clause.Op != "=" || clause.Value != "" {
		t.Fatalf("expected = '' clause, got %+v", clause)
	}

	_, _, err = g.buildFilter("status is something")
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_IS_VALUE" {
		t.Fatalf("expected INVALID_IS_VALUE, got %v", err)
	}
}

func TestFilterCoercesByAttributeType(t *testing.T) {
	reg := testRegistry(t)
	g := NewFilterGenerator(reg.GetEntity("customer_tag"), reg, nil, nil)

	clause, _, err := g.buildFilter("weight gt 3")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if clause.Value != 3 {
		t.Fatalf("expected int 3, got %T %v", clause.Value, clause.Value)
	}

	_, _, err = g.buildFilter("weight gt abc")
	if err == nil {
		t.Fatal("expected coercion failure for non-numeric value")
	}
}

func TestFilterUpdatedSinceRequiresISODate(t *testing.T) {
	g := filterGen(t)

	_, _, err := g.buildFilter("updated_since gte not-a-date")
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_DATE" {
		t.Fatalf("expected INVALID_DATE, got %v", err)
	}

	clause, _, err := g.buildFilter("updated_since gte 2026-01-15T10:00:00Z")
	if err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	if len(clause.Any) == 0 {
		t.Fatal("expected an OR group across timestamp columns")
	}
}

func TestFilterUpdatedSinceRejectsListOperators(t *testing.T) {
	g := filterGen(t)
	for _, spec := range []string{"updated_since in a,b", "updated_at is null", "updated_at like x"} {
		_, _, err := g.buildFilter(spec)
		appErr, ok := err.(*AppError)
		if !ok || appErr.Code != "INVALID_OPERATOR" {
			t.Fatalf("spec %q: expected INVALID_OPERATOR, got %v", spec, err)
		}
	}
}

func TestSearchBuildsORAcrossConfiguredFields(t *testing.T) {
	g := filterGen(t)

	cond, err := g.Condition(&ListRequest{Search: "ali"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(cond.Where) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(cond.Where))
	}
	group := cond.Where[0].Any
	if len(group) != 2 {
		t.Fatalf("expected 2 OR branches, got %d", len(group))
	}
	for _, c := range group {
		if c.Op != "LIKE" || c.Value != "%ali%" {
			t.Fatalf("unexpected search branch: %+v", c)
		}
	}
	// the nested search field pulls in its join
	if len(cond.Joins) != 1 {
		t.Fatalf("expected 1 join for contacts.email, got %d", len(cond.Joins))
	}
}

func TestFilterConditionNilRequestIsNoop(t *testing.T) {
	g := filterGen(t)
	cond, err := g.Condition(nil)
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(cond.Where) != 0 || len(cond.Joins) != 0 {
		t.Fatalf("expected empty condition, got %+v", cond)
	}
}

func TestFilterMalformedSpec(t *testing.T) {
	g := filterGen(t)
	_, _, err := g.buildFilter("name eq")
	if err == nil {
		t.Fatal("expected error for two-token filter")
	}
}
