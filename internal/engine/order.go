package engine

import (
	"strings"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// OrderGenerator turns the sort_by parameter into order clauses plus the
// joins they require. Whatever the input, the generated order ends with a
// stable tiebreaker on the primary key ascending.
type OrderGenerator struct {
	entity   *metadata.Entity
	reg      *metadata.Registry
	resolver *Resolver
	ts       *TimestampResolver
	dialect  store.Dialect

	// custom replaces the default sort_by interpretation when set and
	// returns true. The tiebreaker is still appended.
	custom func(sortBy string) (Condition, bool, error)
}

func NewOrderGenerator(entity *metadata.Entity, reg *metadata.Registry, overrides map[string]metadata.Override, d store.Dialect, custom func(string) (Condition, bool, error)) *OrderGenerator {
	return &OrderGenerator{
		entity:   entity,
		reg:      reg,
		resolver: NewResolver(entity, reg, overrides),
		ts:       NewTimestampResolver(entity, reg),
		dialect:  d,
		custom:   custom,
	}
}

// Condition builds the order condition for a request (nil means no sort_by).
func (g *OrderGenerator) Condition(req *ListRequest) (Condition, error) {
	var cond Condition

	sortBy := ""
	if req != nil {
		sortBy = req.SortBy
	}

	if g.custom != nil {
		custom, handled, err := g.custom(sortBy)
		if err != nil {
			return Condition{}, err
		}
		if handled {
			cond = custom
			cond.Order = append(cond.Order, g.tiebreaker())
			return cond, nil
		}
	}

	if sortBy != "" {
		for _, part := range strings.Split(sortBy, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			desc := strings.HasPrefix(part, "-")
			path := strings.TrimPrefix(part, "-")

			clause, joins, err := g.orderClause(path, desc)
			if err != nil {
				return Condition{}, err
			}
			cond.Order = append(cond.Order, clause)
			for _, j := range joins {
				cond.Merge(Condition{Joins: []Join{j}})
			}
		}
	}

	cond.Order = append(cond.Order, g.tiebreaker())
	return cond, nil
}

func (g *OrderGenerator) orderClause(path string, desc bool) (OrderClause, []Join, error) {
	// updated_at orders by the effective last-modified expression spanning
	// the timestamp hierarchy.
	if path == "updated_at" && len(g.entity.Hierarchy) > 0 {
		window, err := g.ts.LatestExpression(g.dialect)
		if err != nil {
			return OrderClause{}, nil, err
		}
		agg, err := g.ts.AggregateExpression(g.dialect)
		if err != nil {
			return OrderClause{}, nil, err
		}
		joins, err := g.ts.Joins()
		if err != nil {
			return OrderClause{}, nil, err
		}
		return OrderClause{Ref: window, AggRef: agg, Desc: desc}, joins, nil
	}

	resolved, err := g.resolver.Resolve(path)
	if err != nil {
		return OrderClause{}, nil, err
	}
	ref := resolved.ColumnRef()
	return OrderClause{Ref: ref, AggRef: aggWrap(ref, desc), Desc: desc}, resolved.Joins(g.reg), nil
}

// tiebreaker keeps pagination stable across identical sort values.
func (g *OrderGenerator) tiebreaker() OrderClause {
	ref := g.entity.Table + "." + g.entity.PrimaryKeyColumn()
	return OrderClause{Ref: ref, AggRef: ref, Desc: false}
}

// aggWrap makes a plain column reference legal in a grouped query: min for
// ascending, max for descending, so the aggregated value orders rows the
// same way the raw column would.
func aggWrap(ref string, desc bool) string {
	if desc {
		return "max(" + ref + ")"
	}
	return "min(" + ref + ")"
}
