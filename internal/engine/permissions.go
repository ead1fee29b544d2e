package engine

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// PermissionDefinition restricts what a request may touch, keyed on an auth
// metadata entry. Applies is an optional compiled predicate over the auth
// metadata; a nil program means always applicable.
type PermissionDefinition struct {
	Key     string
	Path    string // resolution path, defaults to Key
	Applies *vm.Program
}

// CompileApplicability compiles an applicability predicate, e.g.
// `hasValue("market_place") && metadata.role != "root"`.
func CompileApplicability(code string) (*vm.Program, error) {
	program, err := expr.Compile(code, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile permission predicate %q: %w", code, err)
	}
	return program, nil
}

// PermissionsManager generates the read restriction condition and runs the
// write-path existence checks. One instance serves one request.
type PermissionsManager struct {
	entity   *metadata.Entity
	reg      *metadata.Registry
	resolver *Resolver // uses the manager's own override map
	dialect  store.Dialect
	defs     []PermissionDefinition

	// readGate is an optional pre-query check for list/get; the default is
	// a no-op because reads are restricted by the generated condition.
	readGate func(auth *metadata.AuthContext) error
}

func NewPermissionsManager(entity *metadata.Entity, reg *metadata.Registry, overrides map[string]metadata.Override, d store.Dialect, defs []PermissionDefinition, readGate func(*metadata.AuthContext) error) *PermissionsManager {
	return &PermissionsManager{
		entity:   entity,
		reg:      reg,
		resolver: NewResolver(entity, reg, overrides),
		dialect:  d,
		defs:     defs,
		readGate: readGate,
	}
}

// applicable consults only the optional predicate. A definition without a
// predicate always applies: a token lacking the scoping key then carries an
// empty value set, which renders a vacuously false IN and denies everything
// rather than lifting the restriction.
func (m *PermissionsManager) applicable(def PermissionDefinition, auth *metadata.AuthContext) bool {
	if def.Applies == nil {
		return true
	}
	var md map[string]any
	if auth != nil {
		md = auth.Metadata
	}
	env := map[string]any{
		"metadata": md,
		"hasValue": auth.HasValue,
	}
	out, err := expr.Run(def.Applies, env)
	if err != nil {
		logrus.WithFields(logrus.Fields{"entity": m.entity.Name, "key": def.Key, "error": err}).
			Warn("permission applicability predicate failed, treating as not applicable")
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (def PermissionDefinition) path() string {
	if def.Path != "" {
		return def.Path
	}
	return def.Key
}

// ReadCondition ANDs one IN restriction per applicable definition. A path
// that fails to resolve is a mis-declared definition, not bad input.
func (m *PermissionsManager) ReadCondition(auth *metadata.AuthContext) (Condition, error) {
	var cond Condition
	for _, def := range m.defs {
		if !m.applicable(def, auth) {
			continue
		}
		resolved, err := m.resolver.Resolve(def.path())
		if err != nil {
			return Condition{}, InternalError(fmt.Sprintf("permission definition %s: %v", def.Key, err))
		}
		cond.Merge(Condition{
			Where: []Clause{{Ref: resolved.ColumnRef(), Op: "IN", Value: auth.Values(def.Key)}},
			Joins: resolved.Joins(m.reg),
		})
	}
	return cond, nil
}

// ValidateRead is the pre-query gate for list/get; a no-op unless a custom
// gate was injected.
func (m *PermissionsManager) ValidateRead(auth *metadata.AuthContext) error {
	if m.readGate != nil {
		return m.readGate(auth)
	}
	return nil
}

// ValidateCreate checks each applicable definition against the input
// payload: the path's first hop must name an association whose target the
// input carries (with its primary key); the referenced row must then exist
// within the allowed scope. When the input lacks the association or the id,
// enforcement is skipped with a logged diagnostic.
func (m *PermissionsManager) ValidateCreate(ctx context.Context, q store.Querier, auth *metadata.AuthContext, input map[string]any) error {
	for _, def := range m.defs {
		if !m.applicable(def, auth) {
			continue
		}
		resolved, err := m.resolver.Resolve(def.path())
		if err != nil {
			return InternalError(fmt.Sprintf("permission definition %s: %v", def.Key, err))
		}
		if len(resolved.Assocs) == 0 {
			logrus.WithFields(logrus.Fields{"entity": m.entity.Name, "key": def.Key}).
				Warn("permission path has no association hop, create check skipped")
			continue
		}

		first := resolved.Assocs[0]
		target := resolved.entities[0]

		nested, ok := input[first.AliasName()].(map[string]any)
		if !ok {
			logrus.WithFields(logrus.Fields{"entity": m.entity.Name, "key": def.Key, "association": first.AliasName()}).
				Warn("input payload lacks permission association, create check skipped")
			continue
		}
		id, ok := nested[target.PrimaryKey.Attribute]
		if !ok || id == nil {
			logrus.WithFields(logrus.Fields{"entity": m.entity.Name, "key": def.Key, "association": first.AliasName()}).
				Warn("input payload lacks permission association id, create check skipped")
			continue
		}

		rebased := resolved.rebase(target)
		exists, err := m.exists(ctx, q, target, rebased, id, auth.Values(def.Key))
		if err != nil {
			return err
		}
		if !exists {
			return ForbiddenValueError(def.Key, id)
		}
	}
	return nil
}

// ValidateWrite runs one existence probe per applicable definition against
// the main entity for update/delete. Failures carry no detail.
func (m *PermissionsManager) ValidateWrite(ctx context.Context, q store.Querier, auth *metadata.AuthContext, id any) error {
	for _, def := range m.defs {
		if !m.applicable(def, auth) {
			continue
		}
		resolved, err := m.resolver.Resolve(def.path())
		if err != nil {
			return InternalError(fmt.Sprintf("permission definition %s: %v", def.Key, err))
		}
		exists, err := m.exists(ctx, q, m.entity, resolved, id, auth.Values(def.Key))
		if err != nil {
			return err
		}
		if !exists {
			return ForbiddenError()
		}
	}
	return nil
}

// exists probes for one row of root with the given primary key whose
// resolved restriction column falls inside the allowed values.
func (m *PermissionsManager) exists(ctx context.Context, q store.Querier, root *metadata.Entity, path *ResolvedPath, id any, allowed []any) (bool, error) {
	cond := Condition{
		Where: []Clause{
			{Ref: root.Table + "." + root.PrimaryKeyColumn(), Op: "=", Value: id},
			{Ref: path.ColumnRef(), Op: "IN", Value: allowed},
		},
		Joins: path.Joins(m.reg),
	}

	pb := m.dialect.NewParamBuilder()
	sqlStr := "SELECT " + root.Table + "." + root.PrimaryKeyColumn() + " FROM " + root.Table
	if js := cond.JoinSQL(); js != "" {
		sqlStr += " " + js
	}
	sqlStr += " WHERE " + cond.WhereSQL(m.dialect, pb) + " LIMIT 1"

	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("permission lookup on %s: %w", root.Table, err)
	}
	return len(rows) > 0, nil
}

// rebase re-roots the resolved path at the first hop's target, dropping the
// first association. Used by the create check, which looks the target up
// directly instead of joining from the (not yet existing) main row.
func (p *ResolvedPath) rebase(newRoot *metadata.Entity) *ResolvedPath {
	rebased := &ResolvedPath{
		root: newRoot,
		Attr: p.Attr,
	}
	if len(p.Assocs) <= 1 {
		return rebased
	}
	rebased.Assocs = p.Assocs[1:]
	rebased.entities = p.entities[1:]
	segments := make([]string, len(rebased.Assocs))
	for i, a := range rebased.Assocs {
		segments[i] = a.AliasName()
	}
	rebased.aliases = dotChains(segments)
	return rebased
}
