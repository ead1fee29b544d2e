package engine

import (
	"testing"

	"forge-backend/internal/store"
)

func TestMergeDeduplicatesJoinsStructurally(t *testing.T) {
	j := Join{Table: "contacts", Alias: "contacts", On: `"contacts".customer_id = customers.id`}
	other := Join{Table: "tags", Alias: "tags", On: `"tags".id = x`}

	var cond Condition
	cond.Merge(Condition{Joins: []Join{j}})
	cond.Merge(Condition{Joins: []Join{j, other}})

	if len(cond.Joins) != 2 {
		t.Fatalf("expected 2 deduplicated joins, got %d", len(cond.Joins))
	}
}

func TestMergeANDsPredicatesAndAppendsOrder(t *testing.T) {
	var cond Condition
	cond.Merge(Condition{Where: []Clause{{Ref: "a", Op: "=", Value: 1}}})
	cond.Merge(Condition{
		Where: []Clause{{Ref: "b", Op: "=", Value: 2}},
		Order: []OrderClause{{Ref: "a", AggRef: "min(a)"}},
	})

	if len(cond.Where) != 2 {
		t.Fatalf("expected 2 ANDed clauses, got %d", len(cond.Where))
	}
	if len(cond.Order) != 1 {
		t.Fatalf("expected 1 order clause, got %d", len(cond.Order))
	}
}

func TestEmptyConditionEmitsNoSQL(t *testing.T) {
	var cond Condition
	d := store.NewDialect("sqlite")
	pb := d.NewParamBuilder()
	if got := cond.WhereSQL(d, pb); got != "" {
		t.Fatalf("expected empty WHERE fragment, got %q", got)
	}
	if got := cond.JoinSQL(); got != "" {
		t.Fatalf("expected empty JOIN fragment, got %q", got)
	}
}

func TestClauseSQLRendersOperators(t *testing.T) {
	d := store.NewDialect("sqlite")

	cases := []struct {
		clause Clause
		want   string
		params int
	}{
		{Clause{Ref: "x", Op: "=", Value: 1}, "x = ?1", 1},
		{Clause{Ref: "x", Op: "LIKE", Value: "%a%"}, "x LIKE ?1", 1},
		{Clause{Ref: "x", Op: "IS"}, "x IS NULL", 0},
		{Clause{Ref: "x", Op: "IS NOT"}, "x IS NOT NULL", 0},
		{Clause{Ref: "x", Op: "IN", Value: []any{1, 2}}, "x IN (?1, ?2)", 2},
		{Clause{Ref: "x", Op: "IN", Value: []any{}}, "1=0", 0},
		{Clause{Ref: "x", Op: "NOT IN", Value: []any{}}, "1=1", 0},
		{Clause{Any: []Clause{{Ref: "a", Op: "=", Value: 1}, {Ref: "b", Op: "=", Value: 2}}}, "(a = ?1 OR b = ?2)", 2},
	}
	for _, tc := range cases {
		pb := d.NewParamBuilder()
		got := tc.clause.SQL(d, pb)
		if got != tc.want {
			t.Fatalf("clause %+v: expected %q, got %q", tc.clause, tc.want, got)
		}
		if pb.Count() != tc.params {
			t.Fatalf("clause %+v: expected %d params, got %d", tc.clause, tc.params, pb.Count())
		}
	}
}
