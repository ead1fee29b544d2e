package engine

import (
	"strings"
	"testing"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

func hierarchyRegistry(t *testing.T) (*metadata.Registry, *metadata.Entity) {
	t.Helper()
	reg := testRegistry(t)
	entity := customerEntity(t, reg)
	entity.Hierarchy = []*metadata.HierarchyNode{{Entity: "contact"}}
	return reg, entity
}

func TestTimestampColumnsSpanHierarchy(t *testing.T) {
	reg, entity := hierarchyRegistry(t)
	ts := NewTimestampResolver(entity, reg)

	cols, err := ts.Columns(".", `"`)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	want := []string{"customers.updated_at", `"contacts".updated_at`}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %v", len(want), cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("column %d: expected %s, got %s", i, want[i], cols[i])
		}
	}
}

func TestTimestampEntitiesWithoutTimestampsContributeNothing(t *testing.T) {
	reg, entity := hierarchyRegistry(t)
	reg.GetEntity("contact").Timestamps = false

	ts := NewTimestampResolver(entity, reg)
	cols, err := ts.Columns(".", `"`)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 1 || cols[0] != "customers.updated_at" {
		t.Fatalf("expected only the root column, got %v", cols)
	}
}

func TestLatestExpressionSingleColumnCoalesces(t *testing.T) {
	reg, entity := hierarchyRegistry(t)
	reg.GetEntity("contact").Timestamps = false

	ts := NewTimestampResolver(entity, reg)
	expr, err := ts.LatestExpression(store.NewDialect("sqlite"))
	if err != nil {
		t.Fatalf("latest expression: %v", err)
	}
	if expr != "coalesce(customers.updated_at, '1970-01-01 00:00:00')" {
		t.Fatalf("unexpected expression: %s", expr)
	}
}

func TestLatestExpressionMultiColumnWindows(t *testing.T) {
	reg, entity := hierarchyRegistry(t)
	ts := NewTimestampResolver(entity, reg)

	expr, err := ts.LatestExpression(store.NewDialect("sqlite"))
	if err != nil {
		t.Fatalf("latest expression: %v", err)
	}
	for _, fragment := range []string{"coalesce(customers.updated_at", `coalesce("contacts".updated_at`, "over (partition by customers.id)", "cast("} {
		if !strings.Contains(expr, fragment) {
			t.Fatalf("expression missing %q: %s", fragment, expr)
		}
	}
}

func TestSinceFilterORsAcrossColumns(t *testing.T) {
	reg, entity := hierarchyRegistry(t)
	ts := NewTimestampResolver(entity, reg)

	clause, joins, err := ts.SinceFilter("2026-01-15T10:00:00Z", ">=")
	if err != nil {
		t.Fatalf("since filter: %v", err)
	}
	if len(clause.Any) != 2 {
		t.Fatalf("expected 2 OR branches, got %d", len(clause.Any))
	}
	if clause.Any[0].Value != "2026-01-15 10:00:00" {
		t.Fatalf("unexpected normalized value: %v", clause.Any[0].Value)
	}
	if len(joins) != 1 || joins[0].Table != "contacts" {
		t.Fatalf("expected contacts join, got %+v", joins)
	}
}

func TestSinceFilterRejectsEntityWithoutTimestamps(t *testing.T) {
	reg := testRegistry(t)
	tag := reg.GetEntity("tag")

	ts := NewTimestampResolver(tag, reg)
	_, _, err := ts.SinceFilter("2026-01-15T10:00:00Z", ">=")
	appErr, ok := err.(*AppError)
	if !ok || appErr.Code != "INVALID_UPDATED_SINCE_FIELD" {
		t.Fatalf("expected INVALID_UPDATED_SINCE_FIELD, got %v", err)
	}
}

func TestMisdeclaredHierarchyIsServerError(t *testing.T) {
	reg := testRegistry(t)
	// tag is declared in the hierarchy but no association connects contact
	// to it directly
	contact := reg.GetEntity("contact")
	contact.Hierarchy = []*metadata.HierarchyNode{{Entity: "tag"}}

	ts := NewTimestampResolver(contact, reg)
	_, err := ts.Columns(".", `"`)
	appErr, ok := err.(*AppError)
	if !ok || appErr.Status != 500 {
		t.Fatalf("expected a server-side error, got %v", err)
	}
	if !strings.Contains(appErr.Message, "tag") {
		t.Fatalf("error should name the disconnected entity: %s", appErr.Message)
	}
}
