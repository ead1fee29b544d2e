package engine

import (
	"context"
	"fmt"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// Validator runs the pre-write checks: immutable attributes and referenced
// row existence for foreign keys supplied as plain scalars.
type Validator struct {
	entity    *metadata.Entity
	reg       *metadata.Registry
	dialect   store.Dialect
	immutable []string
}

func NewValidator(entity *metadata.Entity, reg *metadata.Registry, d store.Dialect, immutable []string) *Validator {
	return &Validator{entity: entity, reg: reg, dialect: d, immutable: immutable}
}

// ValidateImmutable rejects changes to configured immutable attributes.
// Equal values pass; an existing NULL passes, the field counts as not yet
// set.
func (v *Validator) ValidateImmutable(input, existing map[string]any) error {
	for _, attr := range v.immutable {
		next, present := input[attr]
		if !present {
			continue
		}
		current := existing[attr]
		if current == nil {
			continue
		}
		if fmt.Sprintf("%v", current) != fmt.Sprintf("%v", next) {
			return ImmutableFieldError(attr)
		}
	}
	return nil
}

// ValidateRelations probes every scalar foreign key in the input that backs
// a BelongsTo association, failing when the referenced row does not exist.
// Nested objects are left to the graph upsert, which creates them.
func (v *Validator) ValidateRelations(ctx context.Context, q store.Querier, input map[string]any) error {
	for _, assoc := range v.reg.AssociationsForSource(v.entity.Name) {
		if !assoc.ForeignKeyOnSource() {
			continue
		}
		fkAttr := assoc.ForeignKey
		id, present := input[fkAttr]
		if !present || id == nil {
			continue
		}
		target := v.reg.GetEntity(assoc.Target)
		if target == nil {
			return InternalError(fmt.Sprintf("association %s.%s targets unknown entity %s", v.entity.Name, assoc.AliasName(), assoc.Target))
		}
		ok, err := v.rowExists(ctx, q, target, id)
		if err != nil {
			return err
		}
		if !ok {
			return RelationNotFoundError(fkAttr, id)
		}
	}
	return nil
}

func (v *Validator) rowExists(ctx context.Context, q store.Querier, e *metadata.Entity, id any) (bool, error) {
	pb := v.dialect.NewParamBuilder()
	sqlStr := "SELECT " + e.PrimaryKeyColumn() + " FROM " + e.Table +
		" WHERE " + e.PrimaryKeyColumn() + " = " + pb.Add(id) + " LIMIT 1"
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("relation lookup on %s: %w", e.Table, err)
	}
	return len(rows) > 0, nil
}
