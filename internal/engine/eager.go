package engine

import (
	"context"
	"fmt"
	"strings"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// loadAssociations attaches every association the entity declares to the
// fetched rows, one level deep, keyed by alias. BelongsTo attaches a single
// map (or nil), HasOne a single map, HasMany and BelongsToMany a slice.
func loadAssociations(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	for _, assoc := range reg.AssociationsForSource(entity.Name) {
		var err error
		switch assoc.Kind {
		case metadata.BelongsTo:
			err = loadBelongsTo(ctx, q, d, reg, entity, assoc, rows)
		case metadata.BelongsToMany:
			err = loadBelongsToMany(ctx, q, d, reg, assoc, rows, entity.PrimaryKey.Attribute)
		default:
			err = loadHasTargets(ctx, q, d, reg, entity, assoc, rows)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) loadAssociations(ctx context.Context, q store.Querier, rows []map[string]any) error {
	return loadAssociations(ctx, q, r.store.Dialect, r.reg, r.entity, rows)
}

// selectColumns aliases every physical column back to its attribute name.
func selectColumns(e *metadata.Entity) string {
	cols := make([]string, 0, len(e.Attributes)+1)
	cols = append(cols, e.PrimaryKeyColumn()+" AS "+e.PrimaryKey.Attribute)
	for _, a := range e.Attributes {
		if a.Name == e.PrimaryKey.Attribute {
			continue
		}
		cols = append(cols, a.ColumnName()+" AS "+a.Name)
	}
	return strings.Join(cols, ", ")
}

// liveFilter hides soft-deleted targets from eager loads.
func liveFilter(e *metadata.Entity, d store.Dialect, pb store.ParamBuilder) string {
	if e.StatusAttribute == "" {
		return ""
	}
	attr := e.GetAttribute(e.StatusAttribute)
	if attr == nil {
		return ""
	}
	col := attr.ColumnName()
	return " AND (" + col + " IS NULL OR " + col + " != " + pb.Add("deleted") + ")"
}

// loadBelongsTo loads the parent rows referenced by the FK on the fetched rows.
func loadBelongsTo(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, assoc *metadata.Association, rows []map[string]any) error {
	target := reg.GetEntity(assoc.Target)
	if target == nil {
		return fmt.Errorf("unknown target entity: %s", assoc.Target)
	}

	fkAttr := assoc.ForeignKey
	fkValues := collectValues(rows, fkAttr)
	alias := assoc.AliasName()
	if len(fkValues) == 0 {
		for _, row := range rows {
			row[alias] = nil
		}
		return nil
	}

	pb := d.NewParamBuilder()
	sqlStr := "SELECT " + selectColumns(target) + " FROM " + target.Table +
		" WHERE " + d.InExpr(target.PrimaryKeyColumn(), pb, fkValues) +
		liveFilter(target, d, pb)
	parents, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load %s: %w", alias, err)
	}

	byPK := make(map[string]map[string]any, len(parents))
	for _, p := range parents {
		byPK[fmt.Sprintf("%v", p[target.PrimaryKey.Attribute])] = p
	}
	for _, row := range rows {
		if row[fkAttr] == nil {
			row[alias] = nil
			continue
		}
		row[alias] = byPK[fmt.Sprintf("%v", row[fkAttr])]
	}
	return nil
}

// loadHasTargets loads HasOne and HasMany targets by the FK on the target side.
func loadHasTargets(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, assoc *metadata.Association, rows []map[string]any) error {
	target := reg.GetEntity(assoc.Target)
	if target == nil {
		return fmt.Errorf("unknown target entity: %s", assoc.Target)
	}

	pkAttr := entity.PrimaryKey.Attribute
	parentIDs := collectValues(rows, pkAttr)
	alias := assoc.AliasName()
	if len(parentIDs) == 0 {
		return nil
	}

	pb := d.NewParamBuilder()
	sqlStr := "SELECT " + selectColumns(target) + " FROM " + target.Table +
		" WHERE " + d.InExpr(columnOf(target, assoc.ForeignKey), pb, parentIDs) +
		liveFilter(target, d, pb)
	children, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load %s: %w", alias, err)
	}

	fkAttr := assoc.ForeignKey
	grouped := make(map[string][]map[string]any)
	for _, child := range children {
		k := fmt.Sprintf("%v", child[fkAttr])
		grouped[k] = append(grouped[k], child)
	}

	for _, row := range rows {
		k := fmt.Sprintf("%v", row[pkAttr])
		if assoc.Kind == metadata.HasOne {
			if g := grouped[k]; len(g) > 0 {
				row[alias] = g[0]
			} else {
				row[alias] = nil
			}
		} else {
			if g := grouped[k]; g != nil {
				row[alias] = g
			} else {
				row[alias] = []map[string]any{}
			}
		}
	}
	return nil
}

// loadBelongsToMany goes through the join entity. Extra attributes carried
// on the join row are attached to each target under the join entity's name.
func loadBelongsToMany(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, assoc *metadata.Association, rows []map[string]any, pkAttr string) error {
	target := reg.GetEntity(assoc.Target)
	through := reg.GetEntity(assoc.Through)
	if target == nil || through == nil {
		return fmt.Errorf("incomplete association %s.%s", assoc.Source, assoc.AliasName())
	}

	alias := assoc.AliasName()
	parentIDs := collectValues(rows, pkAttr)
	if len(parentIDs) == 0 {
		return nil
	}

	pb := d.NewParamBuilder()
	joinSQL := "SELECT " + selectColumns(through) + " FROM " + through.Table +
		" WHERE " + d.InExpr(columnOf(through, assoc.ForeignKey), pb, parentIDs)
	joinRows, err := store.QueryRows(ctx, q, joinSQL, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load join %s: %w", through.Name, err)
	}
	if len(joinRows) == 0 {
		for _, row := range rows {
			row[alias] = []map[string]any{}
		}
		return nil
	}

	srcAttr := assoc.ForeignKey
	tgtAttr := assoc.OtherKey
	targetIDs := collectValues(joinRows, tgtAttr)

	pb = d.NewParamBuilder()
	targetSQL := "SELECT " + selectColumns(target) + " FROM " + target.Table +
		" WHERE " + d.InExpr(target.PrimaryKeyColumn(), pb, targetIDs) +
		liveFilter(target, d, pb)
	targetRows, err := store.QueryRows(ctx, q, targetSQL, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load %s: %w", alias, err)
	}
	targetByPK := make(map[string]map[string]any, len(targetRows))
	for _, t := range targetRows {
		targetByPK[fmt.Sprintf("%v", t[target.PrimaryKey.Attribute])] = t
	}

	grouped := make(map[string][]map[string]any)
	for _, jr := range joinRows {
		t, ok := targetByPK[fmt.Sprintf("%v", jr[tgtAttr])]
		if !ok {
			continue
		}
		entry := make(map[string]any, len(t)+1)
		for k, v := range t {
			entry[k] = v
		}
		if extras := joinExtras(through, jr, srcAttr, tgtAttr); len(extras) > 0 {
			entry[through.Name] = extras
		}
		sid := fmt.Sprintf("%v", jr[srcAttr])
		grouped[sid] = append(grouped[sid], entry)
	}

	for _, row := range rows {
		if g := grouped[fmt.Sprintf("%v", row[pkAttr])]; g != nil {
			row[alias] = g
		} else {
			row[alias] = []map[string]any{}
		}
	}
	return nil
}

// joinExtras strips the keys and primary key from a join row, leaving the
// payload attributes the association carries.
func joinExtras(through *metadata.Entity, jr map[string]any, srcAttr, tgtAttr string) map[string]any {
	extras := make(map[string]any)
	for k, v := range jr {
		if k == srcAttr || k == tgtAttr || k == through.PrimaryKey.Attribute {
			continue
		}
		extras[k] = v
	}
	return extras
}

func collectValues(rows []map[string]any, attr string) []any {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rows {
		v := row[attr]
		if v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if !seen[s] {
			seen[s] = true
			values = append(values, v)
		}
	}
	return values
}
