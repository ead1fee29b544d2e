package engine

import (
	"time"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// epochSentinel makes NULL timestamps sort before everything real.
const epochSentinel = "'1970-01-01 00:00:00'"

const updatedAtColumn = "updated_at"

// TimestampResolver computes the effective last-modified expression for an
// entity whose related entities carry their own timestamps. Consumed by the
// filter and order generators for updated_at/updated_since semantics.
type TimestampResolver struct {
	root *metadata.Entity
	reg  *metadata.Registry
}

func NewTimestampResolver(root *metadata.Entity, reg *metadata.Registry) *TimestampResolver {
	return &TimestampResolver{root: root, reg: reg}
}

type hierarchyColumn struct {
	segments []string // association alias chain; empty for the root
}

// walk collects the timestamp columns and joins of the hierarchy tree,
// depth-first. Entities without timestamps contribute no column but their
// subtree is still walked.
func (t *TimestampResolver) walk() ([]hierarchyColumn, []Join, error) {
	var cols []hierarchyColumn
	var joins []Join

	if t.root.Timestamps {
		cols = append(cols, hierarchyColumn{})
	}

	var visit func(parent *metadata.Entity, nodes []*metadata.HierarchyNode, assocs []*metadata.Association, entities []*metadata.Entity, aliases []string) error
	visit = func(parent *metadata.Entity, nodes []*metadata.HierarchyNode, assocs []*metadata.Association, entities []*metadata.Entity, aliases []string) error {
		for _, node := range nodes {
			child := t.reg.GetEntity(node.Entity)
			if child == nil {
				return InternalError("timestamp hierarchy names unknown entity " + node.Entity)
			}
			assoc := t.extractAssociation(parent, child)
			if assoc == nil {
				return InvalidHierarchyError(parent.Name, child.Name)
			}

			segment := assoc.AliasName()
			chainAliases := append(append([]string{}, aliases...), segment)
			chainAssocs := append(append([]*metadata.Association{}, assocs...), assoc)
			chainEntities := append(append([]*metadata.Entity{}, entities...), child)

			path := &ResolvedPath{
				root:     t.root,
				Assocs:   chainAssocs,
				entities: chainEntities,
				aliases:  dotChains(chainAliases),
			}
			for _, j := range path.Joins(t.reg) {
				joins = appendJoin(joins, j)
			}

			if child.Timestamps {
				cols = append(cols, hierarchyColumn{segments: chainAliases})
			}
			if err := visit(child, node.Children, chainAssocs, chainEntities, chainAliases); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(t.root, t.root.Hierarchy, nil, nil, nil); err != nil {
		return nil, nil, err
	}
	return cols, joins, nil
}

// extractAssociation finds the declared association connecting parent to
// child directly. A missing association is a configuration bug, reported
// loudly by the caller as a server error.
func (t *TimestampResolver) extractAssociation(parent, child *metadata.Entity) *metadata.Association {
	return t.reg.FindAssociation(parent.Name, child.Name)
}

// Columns lists the qualified timestamp column references of the hierarchy.
// Nested entities are referenced by their alias chain joined with sep and
// wrapped in wrap; the root is referenced by its table name.
func (t *TimestampResolver) Columns(sep, wrap string) ([]string, error) {
	cols, _, err := t.walk()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.ref(t.root, sep, wrap)
	}
	return out, nil
}

func (c hierarchyColumn) ref(root *metadata.Entity, sep, wrap string) string {
	if len(c.segments) == 0 {
		return root.Table + "." + updatedAtColumn
	}
	chain := c.segments[0]
	for _, s := range c.segments[1:] {
		chain += sep + s
	}
	return wrap + chain + wrap + "." + updatedAtColumn
}

// Joins returns the join chain needed to reference every hierarchy column.
func (t *TimestampResolver) Joins() ([]Join, error) {
	_, joins, err := t.walk()
	return joins, err
}

// LatestExpression builds the per-row effective last-modified expression.
// One qualifying column collapses to a null-safe coalesce; several build a
// greatest-of-coalesces wrapped in a window max partitioned by the root's
// primary key, so the value is computed per row without collapsing groups,
// then cast to a date-time type.
func (t *TimestampResolver) LatestExpression(d store.Dialect) (string, error) {
	cols, err := t.Columns(".", `"`)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", InvalidUpdatedSinceFieldError(t.root.Name)
	}
	if len(cols) == 1 {
		return "coalesce(" + cols[0] + ", " + epochSentinel + ")", nil
	}
	args := make([]string, len(cols))
	for i, c := range cols {
		args[i] = "coalesce(" + c + ", " + epochSentinel + ")"
	}
	expr := "max(" + d.GreatestExpr(args) + ") over (partition by " + t.root.Table + "." + t.root.PrimaryKeyColumn() + ")"
	return d.CastTimestamp(expr), nil
}

// AggregateExpression is the plain-aggregate form of LatestExpression, for
// queries that already group by the root primary key.
func (t *TimestampResolver) AggregateExpression(d store.Dialect) (string, error) {
	cols, err := t.Columns(".", `"`)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", InvalidUpdatedSinceFieldError(t.root.Name)
	}
	args := make([]string, len(cols))
	for i, c := range cols {
		args[i] = "coalesce(" + c + ", " + epochSentinel + ")"
	}
	if len(args) == 1 {
		return "max(" + args[0] + ")", nil
	}
	return "max(" + d.GreatestExpr(args) + ")", nil
}

// SinceFilter builds an OR across every qualifying timestamp column with
// the given comparison operator. The value must be ISO-8601; entities with
// no timestamps anywhere in scope reject the filter outright.
func (t *TimestampResolver) SinceFilter(value, op string) (Clause, []Join, error) {
	parsed, err := parseISOTime(value)
	if err != nil {
		return Clause{}, nil, InvalidDateError(value)
	}
	cols, joins, walkErr := t.walk()
	if walkErr != nil {
		return Clause{}, nil, walkErr
	}
	if len(cols) == 0 {
		return Clause{}, nil, InvalidUpdatedSinceFieldError(t.root.Name)
	}
	clause := Clause{}
	for _, c := range cols {
		clause.Any = append(clause.Any, Clause{
			Ref:   c.ref(t.root, ".", `"`),
			Op:    op,
			Value: parsed.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return clause, joins, nil
}

func parseISOTime(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// dotChains turns ["a","b","c"] into ["a","a.b","a.b.c"].
func dotChains(segments []string) []string {
	out := make([]string, len(segments))
	chain := ""
	for i, s := range segments {
		if i == 0 {
			chain = s
		} else {
			chain += "." + s
		}
		out[i] = chain
	}
	return out
}

func appendJoin(joins []Join, j Join) []Join {
	for _, existing := range joins {
		if existing == j {
			return joins
		}
	}
	return append(joins, j)
}
