package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// timeLayout is the storage format for timestamps, UTC.
const timeLayout = "2006-01-02 15:04:05"

func nowString() string {
	return time.Now().UTC().Format(timeLayout)
}

// CreateItem runs the recursive graph upsert for a new root row inside one
// transaction. The returned row is bare; callers re-fetch through the read
// path for a fully populated result.
func (r *Repository) CreateItem(ctx context.Context, auth *metadata.AuthContext, input map[string]any) (map[string]any, error) {
	var out map[string]any
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := r.upsertEntity(ctx, tx, auth, r.entity, input, 0)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// UpdateItem is CreateItem with the primary key pinned to id.
func (r *Repository) UpdateItem(ctx context.Context, auth *metadata.AuthContext, id any, input map[string]any) (map[string]any, error) {
	attrs := make(map[string]any, len(input)+1)
	for k, v := range input {
		attrs[k] = v
	}
	attrs[r.entity.PrimaryKey.Attribute] = id

	var out map[string]any
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := r.upsertEntity(ctx, tx, auth, r.entity, attrs, 0)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// DeleteItem fetches the row through the read path, so visibility rules
// apply to deletes exactly as to reads, then soft- or hard-deletes it.
// Returns the row as it was immediately before the mutation.
func (r *Repository) DeleteItem(ctx context.Context, auth *metadata.AuthContext, id any) (map[string]any, error) {
	row, err := r.GetItem(ctx, auth, id)
	if err != nil {
		return nil, err
	}

	e := r.entity
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if e.StatusAttribute != "" {
			fields := map[string]any{e.StatusAttribute: r.cfg.SoftDeleteStatus}
			if e.Timestamps && e.HasAttribute("updated_at") {
				fields["updated_at"] = nowString()
			}
			sqlStr, params := BuildUpdateSQL(r.store.Dialect, e, id, fields)
			if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
				return r.store.Dialect.MapError(err)
			}
			// The audit record only learns about the hard "deleted" tier;
			// archiving leaves it untouched.
			if e.InfoForeignKey != "" && r.cfg.SoftDeleteStatus == "deleted" {
				if infoID := row[e.InfoForeignKey]; infoID != nil {
					if err := r.touchInfoDeleted(ctx, tx, auth, infoID); err != nil {
						return err
					}
				}
			}
			return nil
		}

		pb := r.store.Dialect.NewParamBuilder()
		sqlStr := "DELETE FROM " + e.Table + " WHERE " + e.PrimaryKeyColumn() + " = " + pb.Add(id)
		if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
			return r.store.Dialect.MapError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// upsertEntity persists one node of the input graph and recurses into its
// nested associations. Create vs update is decided by primary key presence.
// Depth is bounded so a cyclic association graph fails loudly instead of
// overflowing the stack.
func (r *Repository) upsertEntity(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, e *metadata.Entity, input map[string]any, depth int) (map[string]any, error) {
	if depth > r.cfg.MaxUpsertDepth {
		return nil, InternalError(fmt.Sprintf("association graph for %s exceeds depth %d; check for cycles", e.Name, r.cfg.MaxUpsertDepth))
	}

	scalars := make(map[string]any)
	type nested struct {
		assoc *metadata.Association
		value any
	}
	var onSource, onTarget []nested

	for k, v := range input {
		if assoc := r.reg.GetAssociation(e.Name, k); assoc != nil {
			if assoc.ForeignKeyOnSource() {
				onSource = append(onSource, nested{assoc, v})
			} else {
				onTarget = append(onTarget, nested{assoc, v})
			}
			continue
		}
		if k == e.PrimaryKey.Attribute || e.HasAttribute(k) {
			scalars[k] = v
		}
		// anything else is not ours; ignored
	}

	// Parents first: their resolved ids become this row's foreign keys.
	for _, n := range onSource {
		fkAttr := n.assoc.ForeignKey
		child, ok := n.value.(map[string]any)
		if !ok {
			if n.value == nil {
				scalars[fkAttr] = nil
			}
			continue
		}
		target := r.reg.GetEntity(n.assoc.Target)
		if target == nil {
			return nil, InternalError(fmt.Sprintf("association %s.%s targets unknown entity %s", e.Name, n.assoc.AliasName(), n.assoc.Target))
		}
		row, err := r.upsertEntity(ctx, tx, auth, target, child, depth+1)
		if err != nil {
			return nil, err
		}
		scalars[fkAttr] = row[target.PrimaryKey.Attribute]
	}

	pkAttr := e.PrimaryKey.Attribute
	creating := scalars[pkAttr] == nil

	var row map[string]any
	var err error
	if creating {
		row, err = r.insertRow(ctx, tx, auth, e, scalars)
	} else {
		row, err = r.updateRow(ctx, tx, auth, e, scalars)
	}
	if err != nil {
		return nil, err
	}
	parentID := row[pkAttr]

	// Children second: they need this row's id as their foreign key.
	for _, n := range onTarget {
		if err := r.upsertLinked(ctx, tx, auth, e, n.assoc, n.value, parentID, depth); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (r *Repository) insertRow(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, e *metadata.Entity, scalars map[string]any) (map[string]any, error) {
	if e.Timestamps {
		now := nowString()
		if e.HasAttribute("created_at") && scalars["created_at"] == nil {
			scalars["created_at"] = now
		}
		if e.HasAttribute("updated_at") && scalars["updated_at"] == nil {
			scalars["updated_at"] = now
		}
	}
	if e.InfoForeignKey != "" {
		infoID, err := r.createInfo(ctx, tx, auth)
		if err != nil {
			return nil, err
		}
		scalars[e.InfoForeignKey] = infoID
	}

	pkAttr := e.PrimaryKey.Attribute
	if e.PrimaryKey.Generated && e.PrimaryKey.Type == "uuid" {
		scalars[pkAttr] = uuid.NewString()
	}

	if scalars[pkAttr] != nil || !e.PrimaryKey.Generated {
		sqlStr, params := BuildInsertSQL(r.store.Dialect, e, scalars)
		if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
			return nil, r.store.Dialect.MapError(err)
		}
		return scalars, nil
	}

	// Auto-incremented integer key: the database assigns it.
	sqlStr, params := BuildInsertSQL(r.store.Dialect, e, scalars)
	if r.store.Dialect.Name() == "postgres" {
		inserted, err := store.QueryRow(ctx, tx, sqlStr+" RETURNING "+e.PrimaryKeyColumn()+" AS "+pkAttr, params...)
		if err != nil {
			return nil, r.store.Dialect.MapError(err)
		}
		scalars[pkAttr] = inserted[pkAttr]
		return scalars, nil
	}
	res, err := tx.ExecContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, r.store.Dialect.MapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", e.Name, err)
	}
	scalars[pkAttr] = id
	return scalars, nil
}

func (r *Repository) updateRow(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, e *metadata.Entity, scalars map[string]any) (map[string]any, error) {
	id := scalars[e.PrimaryKey.Attribute]
	existing, err := r.fetchBare(ctx, tx, e, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// The row was visible earlier in the request; its disappearance is
		// a mid-transaction race or a caller bug, not bad input.
		return nil, InternalError(fmt.Sprintf("%s with id %v vanished during update", e.Name, id))
	}

	fields := make(map[string]any, len(scalars))
	for k, v := range scalars {
		if k == e.PrimaryKey.Attribute {
			continue
		}
		fields[k] = v
	}
	if e.Timestamps && e.HasAttribute("updated_at") {
		fields["updated_at"] = nowString()
	}

	if len(fields) > 0 {
		sqlStr, params := BuildUpdateSQL(r.store.Dialect, e, id, fields)
		if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
			return nil, r.store.Dialect.MapError(err)
		}
	}
	if e.InfoForeignKey != "" {
		if infoID := existing[e.InfoForeignKey]; infoID != nil {
			if err := r.touchInfoUpdated(ctx, tx, auth, infoID); err != nil {
				return nil, err
			}
		}
	}

	for k, v := range fields {
		existing[k] = v
	}
	return existing, nil
}

// upsertLinked handles one foreign-key-on-target association value. List
// values always describe the complete desired set: existing linkage is
// removed first, then rebuilt entry by entry.
func (r *Repository) upsertLinked(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, e *metadata.Entity, assoc *metadata.Association, value any, parentID any, depth int) error {
	target := r.reg.GetEntity(assoc.Target)
	if target == nil {
		return InternalError(fmt.Sprintf("association %s.%s targets unknown entity %s", e.Name, assoc.AliasName(), assoc.Target))
	}

	if assoc.Kind == metadata.HasOne {
		child, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		entry := make(map[string]any, len(child)+1)
		for k, v := range child {
			entry[k] = v
		}
		entry[assoc.ForeignKey] = parentID
		_, err := r.upsertEntity(ctx, tx, auth, target, entry, depth+1)
		return err
	}

	entries, ok := value.([]any)
	if !ok {
		if typed, isTyped := value.([]map[string]any); isTyped {
			entries = make([]any, len(typed))
			for i, m := range typed {
				entries[i] = m
			}
		} else {
			return nil
		}
	}

	if assoc.IsBelongsToMany() {
		return r.replaceJoinRows(ctx, tx, auth, assoc, target, entries, parentID, depth)
	}
	return r.replaceChildren(ctx, tx, auth, assoc, target, entries, parentID, depth)
}

func (r *Repository) replaceChildren(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, assoc *metadata.Association, target *metadata.Entity, entries []any, parentID any, depth int) error {
	// Entries that name an existing row stay out of the removal sweep;
	// sweeping them first would soft-delete the survivors under the
	// status-tier policy.
	var keep []any
	for _, raw := range entries {
		if child, ok := raw.(map[string]any); ok {
			if id := child[target.PrimaryKey.Attribute]; id != nil {
				keep = append(keep, id)
			}
		}
	}
	if err := r.removeLinked(ctx, tx, target, assoc.ForeignKey, parentID, keep); err != nil {
		return err
	}
	for _, raw := range entries {
		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		entry := make(map[string]any, len(child)+1)
		for k, v := range child {
			entry[k] = v
		}
		entry[assoc.ForeignKey] = parentID
		if _, err := r.upsertEntity(ctx, tx, auth, target, entry, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) replaceJoinRows(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, assoc *metadata.Association, target *metadata.Entity, entries []any, parentID any, depth int) error {
	through := r.reg.GetEntity(assoc.Through)
	if through == nil {
		return InternalError(fmt.Sprintf("association %s.%s lacks through entity %s", assoc.Source, assoc.AliasName(), assoc.Through))
	}
	if err := r.removeLinked(ctx, tx, through, assoc.ForeignKey, parentID, nil); err != nil {
		return err
	}

	srcAttr := assoc.ForeignKey
	tgtAttr := assoc.OtherKey
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		targetID := entry[target.PrimaryKey.Attribute]
		if targetID == nil {
			nested := make(map[string]any, len(entry))
			for k, v := range entry {
				if k == through.Name {
					continue
				}
				nested[k] = v
			}
			row, err := r.upsertEntity(ctx, tx, auth, target, nested, depth+1)
			if err != nil {
				return err
			}
			targetID = row[target.PrimaryKey.Attribute]
		}

		// Fresh join row; extra attributes ride along under the join
		// entity's name.
		joinInput := map[string]any{srcAttr: parentID, tgtAttr: targetID}
		if extras, ok := entry[through.Name].(map[string]any); ok {
			for k, v := range extras {
				joinInput[k] = v
			}
		}
		if _, err := r.upsertEntity(ctx, tx, auth, through, joinInput, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// removeLinked applies the removal policy to rows currently linked to the
// parent, except those whose primary key is in keep: null the foreign key
// when it is nullable, soft-delete when the model has a status attribute,
// hard-delete otherwise.
func (r *Repository) removeLinked(ctx context.Context, tx *sql.Tx, target *metadata.Entity, fkAttr string, parentID any, keep []any) error {
	d := r.store.Dialect
	fkCol := columnOf(target, fkAttr)
	attr := target.GetAttribute(fkAttr)

	pb := d.NewParamBuilder()
	var sqlStr string
	switch {
	case attr != nil && attr.Nullable:
		sqlStr = "UPDATE " + target.Table + " SET " + fkCol + " = NULL WHERE " + fkCol + " = " + pb.Add(parentID)
	case target.StatusAttribute != "":
		statusCol := columnOf(target, target.StatusAttribute)
		sqlStr = "UPDATE " + target.Table + " SET " + statusCol + " = " + pb.Add("deleted") + " WHERE " + fkCol + " = " + pb.Add(parentID)
	default:
		sqlStr = "DELETE FROM " + target.Table + " WHERE " + fkCol + " = " + pb.Add(parentID)
	}
	if len(keep) > 0 {
		sqlStr += " AND " + d.NotInExpr(target.PrimaryKeyColumn(), pb, keep)
	}
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return d.MapError(err)
	}
	return nil
}

// fetchBare reads one row by primary key with no joins, no associations and
// no visibility conditions. Write-path internal use only.
func (r *Repository) fetchBare(ctx context.Context, q store.Querier, e *metadata.Entity, id any) (map[string]any, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "SELECT " + selectColumns(e) + " FROM " + e.Table +
		" WHERE " + e.PrimaryKeyColumn() + " = " + pb.Add(id)
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", e.Name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *Repository) createInfo(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext) (string, error) {
	id := uuid.NewString()
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "INSERT INTO infos (id, created_at, created_by) VALUES (" +
		pb.Add(id) + ", " + pb.Add(nowString()) + ", " + pb.Add(auth.ActorID()) + ")"
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return "", fmt.Errorf("create info: %w", err)
	}
	return id, nil
}

func (r *Repository) touchInfoUpdated(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, infoID any) error {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "UPDATE infos SET updated_at = " + pb.Add(nowString()) +
		", updated_by = " + pb.Add(auth.ActorID()) + " WHERE id = " + pb.Add(infoID)
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("touch info: %w", err)
	}
	return nil
}

func (r *Repository) touchInfoDeleted(ctx context.Context, tx *sql.Tx, auth *metadata.AuthContext, infoID any) error {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "UPDATE infos SET deleted_at = " + pb.Add(nowString()) +
		", deleted_by = " + pb.Add(auth.ActorID()) + " WHERE id = " + pb.Add(infoID)
	if _, err := store.Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("touch info: %w", err)
	}
	return nil
}
