package engine

import (
	"context"
	"errors"

	"forge-backend/internal/metadata"
)

// Provider is the outer surface the HTTP layer calls: it sequences
// permission checks, validation and repository work for each operation and
// normalizes unclassified failures. One provider serves one entity.
type Provider struct {
	repo *Repository
}

func NewProvider(repo *Repository) *Provider {
	return &Provider{repo: repo}
}

func (p *Provider) Entity() *metadata.Entity { return p.repo.Entity() }

func (p *Provider) validator() *Validator {
	return NewValidator(p.repo.entity, p.repo.reg, p.repo.store.Dialect, p.repo.cfg.ImmutablePaths)
}

// wrap passes classified application errors through untouched and folds
// everything else into the operation's "unable to" error.
func wrap(verb, entity string, err error) error {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return UnableError(verb, entity, err)
}

func (p *Provider) GetList(ctx context.Context, auth *metadata.AuthContext, req *ListRequest) ([]map[string]any, int, error) {
	if err := p.repo.permissions().ValidateRead(auth); err != nil {
		return nil, 0, wrap("LIST", p.repo.entity.Name, err)
	}
	items, total, err := p.repo.GetList(ctx, auth, req)
	if err != nil {
		return nil, 0, wrap("LIST", p.repo.entity.Name, err)
	}
	return items, total, nil
}

func (p *Provider) GetItem(ctx context.Context, auth *metadata.AuthContext, id any) (map[string]any, error) {
	if err := p.repo.permissions().ValidateRead(auth); err != nil {
		return nil, wrap("GET", p.repo.entity.Name, err)
	}
	item, err := p.repo.GetItem(ctx, auth, id)
	if err != nil {
		return nil, wrap("GET", p.repo.entity.Name, err)
	}
	return item, nil
}

// CreateItem persists the input graph, then re-fetches through the read
// path so the response carries eager associations and respects visibility.
func (p *Provider) CreateItem(ctx context.Context, auth *metadata.AuthContext, input map[string]any) (map[string]any, error) {
	name := p.repo.entity.Name
	if err := p.repo.permissions().ValidateCreate(ctx, p.repo.store.DB, auth, input); err != nil {
		return nil, wrap("CREATE", name, err)
	}
	if err := p.validator().ValidateRelations(ctx, p.repo.store.DB, input); err != nil {
		return nil, wrap("CREATE", name, err)
	}

	row, err := p.repo.CreateItem(ctx, auth, input)
	if err != nil {
		return nil, wrap("CREATE", name, err)
	}
	item, err := p.repo.GetItem(ctx, auth, row[p.repo.entity.PrimaryKey.Attribute])
	if err != nil {
		return nil, wrap("CREATE", name, err)
	}
	return item, nil
}

// UpdateItem treats the input as a merge patch in both full and partial
// mode: attributes absent from the input are left untouched. isPartial is
// accepted for interface compatibility.
func (p *Provider) UpdateItem(ctx context.Context, auth *metadata.AuthContext, id any, input map[string]any, isPartial bool) (map[string]any, error) {
	name := p.repo.entity.Name
	if err := p.repo.permissions().ValidateWrite(ctx, p.repo.store.DB, auth, id); err != nil {
		return nil, wrap("UPDATE", name, err)
	}

	existing, err := p.repo.GetItem(ctx, auth, id)
	if err != nil {
		return nil, wrap("UPDATE", name, err)
	}
	v := p.validator()
	if err := v.ValidateImmutable(input, existing); err != nil {
		return nil, wrap("UPDATE", name, err)
	}
	if err := v.ValidateRelations(ctx, p.repo.store.DB, input); err != nil {
		return nil, wrap("UPDATE", name, err)
	}

	if _, err := p.repo.UpdateItem(ctx, auth, id, input); err != nil {
		return nil, wrap("UPDATE", name, err)
	}
	item, err := p.repo.GetItem(ctx, auth, id)
	if err != nil {
		return nil, wrap("UPDATE", name, err)
	}
	return item, nil
}

func (p *Provider) DeleteItem(ctx context.Context, auth *metadata.AuthContext, id any) (map[string]any, error) {
	name := p.repo.entity.Name
	if err := p.repo.permissions().ValidateWrite(ctx, p.repo.store.DB, auth, id); err != nil {
		return nil, wrap("DELETE", name, err)
	}
	item, err := p.repo.DeleteItem(ctx, auth, id)
	if err != nil {
		return nil, wrap("DELETE", name, err)
	}
	return item, nil
}
