package engine

import (
	"sort"
	"strings"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// scalarColumns maps input attribute names to physical columns, in sorted
// key order so generated SQL is deterministic.
func scalarColumns(e *metadata.Entity, fields map[string]any) ([]string, []any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cols []string
	var vals []any
	for _, k := range keys {
		cols = append(cols, columnOf(e, k))
		vals = append(vals, fields[k])
	}
	return cols, vals
}

// BuildInsertSQL builds a parameterized INSERT for the given attribute map.
func BuildInsertSQL(d store.Dialect, e *metadata.Entity, fields map[string]any) (string, []any) {
	cols, vals := scalarColumns(e, fields)
	pb := d.NewParamBuilder()
	phs := make([]string, len(vals))
	for i, v := range vals {
		phs[i] = pb.Add(v)
	}
	sqlStr := "INSERT INTO " + e.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")"
	return sqlStr, pb.Params()
}

// BuildUpdateSQL builds a parameterized UPDATE by primary key. Returns ""
// when there is nothing to set.
func BuildUpdateSQL(d store.Dialect, e *metadata.Entity, id any, fields map[string]any) (string, []any) {
	cols, vals := scalarColumns(e, fields)
	if len(cols) == 0 {
		return "", nil
	}
	pb := d.NewParamBuilder()
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = " + pb.Add(vals[i])
	}
	sqlStr := "UPDATE " + e.Table + " SET " + strings.Join(sets, ", ") +
		" WHERE " + e.PrimaryKeyColumn() + " = " + pb.Add(id)
	return sqlStr, pb.Params()
}

// buildKeysQuery is the first phase of a list fetch: distinct primary keys
// in final order. Grouping by the primary key keeps join fan-out from
// corrupting LIMIT/OFFSET; order clauses use their aggregate-safe form.
func buildKeysQuery(d store.Dialect, e *metadata.Entity, cond Condition, limit, offset int) (string, []any) {
	pb := d.NewParamBuilder()
	pkRef := e.Table + "." + e.PrimaryKeyColumn()

	sqlStr := "SELECT " + pkRef + " AS pk FROM " + e.Table
	if js := cond.JoinSQL(); js != "" {
		sqlStr += " " + js
	}
	if ws := cond.WhereSQL(d, pb); ws != "" {
		sqlStr += " WHERE " + ws
	}
	sqlStr += " GROUP BY " + pkRef
	if len(cond.Order) > 0 {
		parts := make([]string, len(cond.Order))
		for i, o := range cond.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = o.AggRef + " " + dir
		}
		sqlStr += " ORDER BY " + strings.Join(parts, ", ")
	}
	sqlStr += " LIMIT " + pb.Add(limit) + " OFFSET " + pb.Add(offset)
	return sqlStr, pb.Params()
}

// buildCountQuery counts distinct primary keys under the same condition.
func buildCountQuery(d store.Dialect, e *metadata.Entity, cond Condition) (string, []any) {
	pb := d.NewParamBuilder()
	pkRef := e.Table + "." + e.PrimaryKeyColumn()

	sqlStr := "SELECT COUNT(DISTINCT " + pkRef + ") AS total FROM " + e.Table
	if js := cond.JoinSQL(); js != "" {
		sqlStr += " " + js
	}
	if ws := cond.WhereSQL(d, pb); ws != "" {
		sqlStr += " WHERE " + ws
	}
	return sqlStr, pb.Params()
}

// buildRowsQuery is the second phase: full rows for the phase-1 keys. The
// base fetch condition is re-applied; ordering happens in the caller by
// phase-1 key position, since a plain IN guarantees nothing.
func buildRowsQuery(d store.Dialect, e *metadata.Entity, base Condition, keys []any) (string, []any) {
	pb := d.NewParamBuilder()
	pkRef := e.Table + "." + e.PrimaryKeyColumn()

	cols := make([]string, 0, len(e.Attributes)+1)
	cols = append(cols, pkRef+" AS "+e.PrimaryKey.Attribute)
	for _, a := range e.Attributes {
		if a.Name == e.PrimaryKey.Attribute {
			continue
		}
		cols = append(cols, e.Table+"."+a.ColumnName()+" AS "+a.Name)
	}

	cond := Condition{}
	cond.Merge(base)
	cond.Where = append(cond.Where, Clause{Ref: pkRef, Op: "IN", Value: keys})

	sqlStr := "SELECT " + strings.Join(cols, ", ") + " FROM " + e.Table
	if js := cond.JoinSQL(); js != "" {
		sqlStr += " " + js
	}
	sqlStr += " WHERE " + cond.WhereSQL(d, pb)
	if len(cond.Joins) > 0 {
		sqlStr += " GROUP BY " + pkRef
	}
	return sqlStr, pb.Params()
}
