package engine

import (
	"strings"

	"forge-backend/internal/store"
)

// Clause is one predicate of a WHERE tree. Either Ref/Op/Value describe a
// single comparison, or Any holds OR-combined sub-clauses.
type Clause struct {
	Ref   string   // qualified column reference or literal expression
	Op    string   // "=", "!=", ">", ">=", "<", "<=", "LIKE", "IN", "NOT IN", "IS", "IS NOT"
	Value any      // scalar; []any for IN/NOT IN; nil for IS [NOT] NULL
	Any   []Clause // OR group; when set, Ref/Op/Value are ignored
}

// Join is one required LEFT JOIN, identified structurally by all three
// fields; de-duplication compares the whole struct.
type Join struct {
	Table string
	Alias string
	On    string
}

type OrderClause struct {
	Ref    string // expression used in the non-aggregated (phase-2) query
	AggRef string // aggregate-safe form for the grouped phase-1 query
	Desc   bool
}

// Condition is a predicate plus the joins it requires. Empty slices emit
// no SQL fragments at all.
type Condition struct {
	Where []Clause
	Joins []Join
	Order []OrderClause
}

// Merge folds other into c: predicates AND together, joins concatenate and
// de-duplicate by structural equality, order clauses append.
func (c *Condition) Merge(other Condition) {
	c.Where = append(c.Where, other.Where...)
	c.Order = append(c.Order, other.Order...)
	for _, j := range other.Joins {
		c.addJoin(j)
	}
}

func (c *Condition) addJoin(j Join) {
	for _, existing := range c.Joins {
		if existing == j {
			return
		}
	}
	c.Joins = append(c.Joins, j)
}

// SQL renders the clause against a dialect, accumulating parameters.
func (cl Clause) SQL(d store.Dialect, pb store.ParamBuilder) string {
	if len(cl.Any) > 0 {
		parts := make([]string, len(cl.Any))
		for i, sub := range cl.Any {
			parts[i] = sub.SQL(d, pb)
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	}

	switch cl.Op {
	case "IN":
		values, _ := cl.Value.([]any)
		return d.InExpr(cl.Ref, pb, values)
	case "NOT IN":
		values, _ := cl.Value.([]any)
		return d.NotInExpr(cl.Ref, pb, values)
	case "IS":
		return cl.Ref + " IS NULL"
	case "IS NOT":
		return cl.Ref + " IS NOT NULL"
	default:
		return cl.Ref + " " + cl.Op + " " + pb.Add(cl.Value)
	}
}

// WhereSQL renders all predicates ANDed, or "" when there are none.
func (c *Condition) WhereSQL(d store.Dialect, pb store.ParamBuilder) string {
	if len(c.Where) == 0 {
		return ""
	}
	parts := make([]string, len(c.Where))
	for i, cl := range c.Where {
		parts[i] = cl.SQL(d, pb)
	}
	return strings.Join(parts, " AND ")
}

// JoinSQL renders the LEFT JOIN chain, or "" when there are no joins.
func (c *Condition) JoinSQL() string {
	if len(c.Joins) == 0 {
		return ""
	}
	parts := make([]string, len(c.Joins))
	for i, j := range c.Joins {
		parts[i] = `LEFT JOIN ` + j.Table + ` AS "` + j.Alias + `" ON ` + j.On
	}
	return strings.Join(parts, " ")
}
