package engine

import (
	"fmt"
	"strconv"
	"strings"

	"forge-backend/internal/metadata"
)

// ListRequest is the query-string shape the controller layer hands to the
// engine. It is built fresh per request.
type ListRequest struct {
	Filters  []string // repeatable "filter" params: "<path> <operator> <value...>"
	SortBy   string   // comma-separated "[-]<path>" list
	Search   string   // free-text "q" param
	Page     int
	PageSize int
}

// canonicalOps maps user-facing operator tokens (including aliases) to SQL
// operators. Anything absent fails with InvalidOperatorError.
var canonicalOps = map[string]string{
	"eq":    "=",
	"ne":    "!=",
	"gt":    ">",
	"gte":   ">=",
	"ge":    ">=",
	"lt":    "<",
	"lte":   "<=",
	"le":    "<=",
	"like":  "LIKE",
	"ct":    "LIKE",
	"in":    "IN",
	"notIn": "NOT IN",
	"is":    "IS",
	"not":   "IS NOT",
	"isNot": "IS NOT",
}

// FilterGenerator turns filter strings and the free-text search parameter
// into one ANDed condition. One instance serves one request.
type FilterGenerator struct {
	entity   *metadata.Entity
	reg      *metadata.Registry
	resolver *Resolver
	ts       *TimestampResolver
	search   []string // default search field paths
}

func NewFilterGenerator(entity *metadata.Entity, reg *metadata.Registry, overrides map[string]metadata.Override, searchPaths []string) *FilterGenerator {
	return &FilterGenerator{
		entity:   entity,
		reg:      reg,
		resolver: NewResolver(entity, reg, overrides),
		ts:       NewTimestampResolver(entity, reg),
		search:   searchPaths,
	}
}

// Condition builds the filter condition for a request; a nil request (used
// by internal non-listing fetches) produces an empty condition.
func (g *FilterGenerator) Condition(req *ListRequest) (Condition, error) {
	var cond Condition
	if req == nil {
		return cond, nil
	}

	for _, spec := range req.Filters {
		clause, joins, err := g.buildFilter(spec)
		if err != nil {
			return Condition{}, err
		}
		cond.Merge(Condition{Where: []Clause{clause}, Joins: joins})
	}

	if req.Search != "" {
		clause, joins, err := g.buildSearch(req.Search)
		if err != nil {
			return Condition{}, err
		}
		cond.Merge(Condition{Where: []Clause{clause}, Joins: joins})
	}

	return cond, nil
}

// buildFilter parses one "<path> <operator> <value...>" expression.
func (g *FilterGenerator) buildFilter(spec string) (Clause, []Join, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), " ", 3)
	if len(parts) < 3 {
		return Clause{}, nil, NewAppError("INVALID_FILTER", 400,
			fmt.Sprintf("Filter must be '<field> <operator> <value>': %s", spec))
	}
	path, opToken, value := parts[0], parts[1], parts[2]

	op, ok := canonicalOps[opToken]
	if !ok {
		return Clause{}, nil, InvalidOperatorError(opToken)
	}

	// updated_at/updated_since bypass path resolution and fan out across
	// the timestamp hierarchy instead.
	if path == "updated_since" || path == "updated_at" {
		if op == "IN" || op == "NOT IN" || op == "IS" || op == "IS NOT" || op == "LIKE" {
			return Clause{}, nil, InvalidOperatorError(opToken)
		}
		return g.ts.SinceFilter(value, op)
	}

	resolved, err := g.resolver.Resolve(path)
	if err != nil {
		return Clause{}, nil, err
	}
	ref := resolved.ColumnRef()
	joins := resolved.Joins(g.reg)

	switch op {
	case "IS", "IS NOT":
		switch value {
		case "null":
			return Clause{Ref: ref, Op: op}, joins, nil
		case "empty":
			// "is empty" degrades to an equality check; IS only works
			// against NULL.
			eqOp := "="
			if op == "IS NOT" {
				eqOp = "!="
			}
			return Clause{Ref: ref, Op: eqOp, Value: ""}, joins, nil
		default:
			return Clause{}, nil, InvalidIsOperatorError(value)
		}
	case "IN", "NOT IN":
		// list values stay strings
		items := strings.Split(value, ",")
		values := make([]any, 0, len(items))
		for _, item := range items {
			values = append(values, strings.TrimSpace(item))
		}
		return Clause{Ref: ref, Op: op, Value: values}, joins, nil
	case "LIKE":
		return Clause{Ref: ref, Op: op, Value: "%" + value + "%"}, joins, nil
	default:
		coerced, err := coerceValue(resolved.Attr, value)
		if err != nil {
			return Clause{}, nil, NewAppError("INVALID_FILTER", 400,
				fmt.Sprintf("Invalid value for %s: %v", path, err))
		}
		return Clause{Ref: ref, Op: op, Value: coerced}, joins, nil
	}
}

// buildSearch ORs a LIKE over every configured default search field.
func (g *FilterGenerator) buildSearch(term string) (Clause, []Join, error) {
	if len(g.search) == 0 {
		return Clause{}, nil, NewAppError("INVALID_FILTER", 400,
			fmt.Sprintf("Entity %s does not support free-text search", g.entity.Name))
	}
	clause := Clause{}
	var joins []Join
	for _, path := range g.search {
		resolved, err := g.resolver.Resolve(path)
		if err != nil {
			return Clause{}, nil, err
		}
		clause.Any = append(clause.Any, Clause{
			Ref:   resolved.ColumnRef(),
			Op:    "LIKE",
			Value: "%" + term + "%",
		})
		for _, j := range resolved.Joins(g.reg) {
			joins = appendJoin(joins, j)
		}
	}
	return clause, joins, nil
}

// coerceValue converts the raw string to the resolved attribute's type.
// Literal-override paths have no attribute; their values pass through.
func coerceValue(attr *metadata.Attribute, value string) (any, error) {
	if attr == nil {
		return value, nil
	}
	switch attr.Type {
	case "int", "integer":
		return strconv.Atoi(value)
	case "bigint":
		return strconv.ParseInt(value, 10, 64)
	case "decimal", "float":
		return strconv.ParseFloat(value, 64)
	case "boolean":
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}
