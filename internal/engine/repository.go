package engine

import (
	"context"
	"fmt"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

// Config parameterizes the generic engine for one entity. Per-entity
// customization is injected here instead of subclassed: override maps,
// permission definitions, search fields, and the optional strategy hooks.
type Config struct {
	Entity string

	// PathOverrides feeds the filter/order resolvers; PermissionOverrides
	// feeds the permission manager's own resolver.
	PathOverrides       map[string]metadata.Override
	PermissionOverrides map[string]metadata.Override

	Permissions    []PermissionDefinition
	SearchPaths    []string
	ImmutablePaths []string

	// Base is the static per-entity fetch condition applied to every read.
	Base Condition

	SoftDeleteStatus string // "archived" (default) or "deleted"
	DefaultPageSize  int
	MaxPageSize      int
	MaxUpsertDepth   int

	// Optional strategy hooks.
	CustomOrder func(sortBy string) (Condition, bool, error)
	ReadGate    func(auth *metadata.AuthContext) error
}

// DefaultPermissions scopes every entity on the marketplace id unless a
// service configures otherwise.
func DefaultPermissions() []PermissionDefinition {
	return []PermissionDefinition{{Key: "market_place", Path: "market_place_id"}}
}

func (c *Config) withDefaults() {
	if c.SoftDeleteStatus == "" {
		c.SoftDeleteStatus = "archived"
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 25
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if c.MaxUpsertDepth <= 0 {
		c.MaxUpsertDepth = 10
	}
}

// Repository merges the three condition generators into read queries and
// implements the write path. The repository itself is stateless; the
// generators are built fresh for every request.
type Repository struct {
	store  *store.Store
	reg    *metadata.Registry
	entity *metadata.Entity
	cfg    Config
}

func NewRepository(s *store.Store, reg *metadata.Registry, cfg Config) (*Repository, error) {
	entity := reg.GetEntity(cfg.Entity)
	if entity == nil {
		return nil, fmt.Errorf("unknown entity %q", cfg.Entity)
	}
	cfg.withDefaults()
	return &Repository{store: s, reg: reg, entity: entity, cfg: cfg}, nil
}

func (r *Repository) Entity() *metadata.Entity { return r.entity }

func (r *Repository) permissions() *PermissionsManager {
	return NewPermissionsManager(r.entity, r.reg, r.cfg.PermissionOverrides, r.store.Dialect, r.cfg.Permissions, r.cfg.ReadGate)
}

func (r *Repository) filters() *FilterGenerator {
	return NewFilterGenerator(r.entity, r.reg, r.cfg.PathOverrides, r.cfg.SearchPaths)
}

func (r *Repository) order() *OrderGenerator {
	return NewOrderGenerator(r.entity, r.reg, r.cfg.PathOverrides, r.store.Dialect, r.cfg.CustomOrder)
}

// readCondition merges base < permissions < filters, in that order.
func (r *Repository) readCondition(auth *metadata.AuthContext, req *ListRequest) (Condition, error) {
	var cond Condition
	cond.Merge(r.cfg.Base)

	permCond, err := r.permissions().ReadCondition(auth)
	if err != nil {
		return Condition{}, err
	}
	cond.Merge(permCond)

	filterCond, err := r.filters().Condition(req)
	if err != nil {
		return Condition{}, err
	}
	cond.Merge(filterCond)
	return cond, nil
}

// GetItem fetches one visible row by primary key. Absent and invisible
// rows are indistinguishable to the caller.
func (r *Repository) GetItem(ctx context.Context, auth *metadata.AuthContext, id any) (map[string]any, error) {
	cond, err := r.readCondition(auth, nil)
	if err != nil {
		return nil, err
	}
	cond.Where = append(cond.Where, Clause{
		Ref: r.entity.Table + "." + r.entity.PrimaryKeyColumn(), Op: "=", Value: id,
	})

	sqlStr, params := buildKeysQuery(r.store.Dialect, r.entity, cond, 1, 0)
	keys, err := store.QueryRows(ctx, r.store.DB, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.entity.Name, err)
	}
	if len(keys) == 0 {
		return nil, ItemNotFoundError(r.entity.Name, id)
	}

	rows, err := r.fetchRows(ctx, []any{keys[0]["pk"]})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ItemNotFoundError(r.entity.Name, id)
	}
	return rows[0], nil
}

// GetList runs the two-phase fetch: distinct ordered keys plus total count
// first, full rows with eager associations second.
func (r *Repository) GetList(ctx context.Context, auth *metadata.AuthContext, req *ListRequest) ([]map[string]any, int, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = r.cfg.DefaultPageSize
	}
	if pageSize > r.cfg.MaxPageSize {
		return nil, 0, PageSizeExceededError(pageSize, r.cfg.MaxPageSize)
	}
	// Write the resolved paging back so response metadata reports what was
	// actually applied, not the raw request values.
	req.Page = page
	req.PageSize = pageSize

	cond, err := r.readCondition(auth, req)
	if err != nil {
		return nil, 0, err
	}
	orderCond, err := r.order().Condition(req)
	if err != nil {
		return nil, 0, err
	}
	cond.Merge(orderCond)

	countSQL, countParams := buildCountQuery(r.store.Dialect, r.entity, cond)
	countRow, err := store.QueryRow(ctx, r.store.DB, countSQL, countParams...)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", r.entity.Name, err)
	}
	total := toInt(countRow["total"])

	keysSQL, keysParams := buildKeysQuery(r.store.Dialect, r.entity, cond, pageSize, pageSize*(page-1))
	keyRows, err := store.QueryRows(ctx, r.store.DB, keysSQL, keysParams...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s keys: %w", r.entity.Name, err)
	}
	if len(keyRows) == 0 {
		return []map[string]any{}, total, nil
	}

	keys := make([]any, len(keyRows))
	for i, kr := range keyRows {
		keys[i] = kr["pk"]
	}

	rows, err := r.fetchRows(ctx, keys)
	if err != nil {
		return nil, 0, err
	}
	return orderByKeys(rows, r.entity.PrimaryKey.Attribute, keys), total, nil
}

// fetchRows is the second phase: full rows for the given keys, base fetch
// condition re-applied, with every declared association eager-loaded.
func (r *Repository) fetchRows(ctx context.Context, keys []any) ([]map[string]any, error) {
	sqlStr, params := buildRowsQuery(r.store.Dialect, r.entity, r.cfg.Base, keys)
	rows, err := store.QueryRows(ctx, r.store.DB, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s rows: %w", r.entity.Name, err)
	}
	if err := r.loadAssociations(ctx, r.store.DB, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// orderByKeys re-applies the phase-1 ordering to the phase-2 rows.
func orderByKeys(rows []map[string]any, pkAttr string, keys []any) []map[string]any {
	byPK := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		byPK[fmt.Sprintf("%v", row[pkAttr])] = row
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		if row, ok := byPK[fmt.Sprintf("%v", k)]; ok {
			out = append(out, row)
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
