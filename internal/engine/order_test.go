package engine

import (
	"strings"
	"testing"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

func orderGen(t *testing.T, custom func(string) (Condition, bool, error)) *OrderGenerator {
	t.Helper()
	reg := testRegistry(t)
	return NewOrderGenerator(customerEntity(t, reg), reg, nil, store.NewDialect("sqlite"), custom)
}

func TestOrderAlwaysEndsWithPrimaryKeyTiebreaker(t *testing.T) {
	g := orderGen(t, nil)

	for _, sortBy := range []string{"", "name", "-name,contacts.email"} {
		cond, err := g.Condition(&ListRequest{SortBy: sortBy})
		if err != nil {
			t.Fatalf("sort_by %q: %v", sortBy, err)
		}
		if len(cond.Order) == 0 {
			t.Fatalf("sort_by %q: no order clauses", sortBy)
		}
		last := cond.Order[len(cond.Order)-1]
		if last.Ref != "customers.id" || last.Desc {
			t.Fatalf("sort_by %q: expected trailing (customers.id, ASC), got %+v", sortBy, last)
		}
	}
}

func TestOrderNoSortByYieldsOnlyTiebreaker(t *testing.T) {
	g := orderGen(t, nil)
	cond, err := g.Condition(nil)
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(cond.Order) != 1 {
		t.Fatalf("expected exactly the tiebreaker, got %d clauses", len(cond.Order))
	}
}

func TestOrderParsesDescendingPrefix(t *testing.T) {
	g := orderGen(t, nil)
	cond, err := g.Condition(&ListRequest{SortBy: "-name,status"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(cond.Order) != 3 {
		t.Fatalf("expected 3 clauses, got %d", len(cond.Order))
	}
	if !cond.Order[0].Desc || cond.Order[0].Ref != "customers.name" {
		t.Fatalf("unexpected first clause: %+v", cond.Order[0])
	}
	if cond.Order[1].Desc || cond.Order[1].Ref != "customers.status" {
		t.Fatalf("unexpected second clause: %+v", cond.Order[1])
	}
	// grouped phase uses aggregate-safe refs
	if cond.Order[0].AggRef != "max(customers.name)" || cond.Order[1].AggRef != "min(customers.status)" {
		t.Fatalf("unexpected aggregate refs: %s / %s", cond.Order[0].AggRef, cond.Order[1].AggRef)
	}
}

func TestOrderNestedPathAccumulatesJoins(t *testing.T) {
	g := orderGen(t, nil)
	cond, err := g.Condition(&ListRequest{SortBy: "contacts.email"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if len(cond.Joins) != 1 || cond.Joins[0].Table != "contacts" {
		t.Fatalf("expected contacts join, got %+v", cond.Joins)
	}
}

func TestOrderInvalidPathIsClientError(t *testing.T) {
	g := orderGen(t, nil)
	_, err := g.Condition(&ListRequest{SortBy: "bogus"})
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_PATH" {
		t.Fatalf("expected INVALID_PATH, got %v", err)
	}
}

func TestOrderUpdatedAtUsesHierarchyExpression(t *testing.T) {
	reg := testRegistry(t)
	entity := customerEntity(t, reg)
	entity.Hierarchy = []*metadata.HierarchyNode{{Entity: "contact"}}
	defer func() { entity.Hierarchy = nil }()

	g := NewOrderGenerator(entity, reg, nil, store.NewDialect("sqlite"), nil)
	cond, err := g.Condition(&ListRequest{SortBy: "-updated_at"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	first := cond.Order[0]
	if !strings.Contains(first.Ref, "over (partition by customers.id)") {
		t.Fatalf("expected a window expression, got %s", first.Ref)
	}
	if !strings.Contains(first.AggRef, "max(") {
		t.Fatalf("expected aggregate form, got %s", first.AggRef)
	}
	if len(cond.Joins) != 1 || cond.Joins[0].Table != "contacts" {
		t.Fatalf("expected the hierarchy join, got %+v", cond.Joins)
	}
}

func TestOrderCustomHookReplacesDefault(t *testing.T) {
	custom := func(sortBy string) (Condition, bool, error) {
		if sortBy != "special" {
			return Condition{}, false, nil
		}
		return Condition{Order: []OrderClause{{Ref: "customers.status", AggRef: "min(customers.status)"}}}, true, nil
	}
	g := orderGen(t, custom)

	cond, err := g.Condition(&ListRequest{SortBy: "special"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if cond.Order[0].Ref != "customers.status" {
		t.Fatalf("custom order not applied: %+v", cond.Order)
	}
	if cond.Order[len(cond.Order)-1].Ref != "customers.id" {
		t.Fatal("tiebreaker missing after custom order")
	}

	// unhandled sort strings fall back to the default interpretation
	cond, err = g.Condition(&ListRequest{SortBy: "name"})
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if cond.Order[0].Ref != "customers.name" {
		t.Fatalf("default order not applied: %+v", cond.Order)
	}
}
