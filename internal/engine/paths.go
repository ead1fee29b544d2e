package engine

import (
	"strings"

	"forge-backend/internal/metadata"
)

// Resolver turns dotted path strings into validated association chains.
// Construction is cheap; one lives per request inside each generator.
type Resolver struct {
	root      *metadata.Entity
	reg       *metadata.Registry
	overrides map[string]metadata.Override
}

// ResolvedPath is the outcome of resolving one path: the association hops
// to walk plus the terminal attribute, or an opaque literal expression.
type ResolvedPath struct {
	Assocs  []*metadata.Association
	Attr    *metadata.Attribute
	Literal string

	root     *metadata.Entity
	entities []*metadata.Entity // entity after each hop
	aliases  []string           // accumulated alias chain per hop
}

func NewResolver(root *metadata.Entity, reg *metadata.Registry, overrides map[string]metadata.Override) *Resolver {
	return &Resolver{root: root, reg: reg, overrides: overrides}
}

// Resolve maps a dotted path to its association chain and terminal field.
// The override map is consulted first on the exact input string: a literal
// override short-circuits resolution entirely, a path override re-resolves
// the mapped path. All failures are client-facing INVALID_PATH errors.
func (r *Resolver) Resolve(path string) (*ResolvedPath, error) {
	if ov, ok := r.overrides[path]; ok {
		if ov.Literal != "" {
			return &ResolvedPath{Literal: ov.Literal, root: r.root}, nil
		}
		return r.resolveSegments(ov.Path)
	}
	return r.resolveSegments(path)
}

func (r *Resolver) resolveSegments(path string) (*ResolvedPath, error) {
	segments := strings.Split(path, ".")
	resolved := &ResolvedPath{root: r.root}

	current := r.root
	chain := ""
	for _, seg := range segments[:len(segments)-1] {
		assoc := r.reg.GetAssociation(current.Name, seg)
		if assoc == nil {
			return nil, InvalidPathError(path)
		}
		target := r.reg.GetEntity(assoc.Target)
		if target == nil {
			return nil, InvalidPathError(path)
		}
		if chain == "" {
			chain = assoc.AliasName()
		} else {
			chain += "." + assoc.AliasName()
		}
		resolved.Assocs = append(resolved.Assocs, assoc)
		resolved.entities = append(resolved.entities, target)
		resolved.aliases = append(resolved.aliases, chain)
		current = target
	}

	last := segments[len(segments)-1]
	attr := current.GetAttribute(last)
	if attr == nil {
		if last == current.PrimaryKey.Attribute {
			pk := metadata.Attribute{Name: current.PrimaryKey.Attribute, Column: current.PrimaryKeyColumn(), Type: current.PrimaryKey.Type}
			resolved.Attr = &pk
			return resolved, nil
		}
		return nil, InvalidPathError(path)
	}
	resolved.Attr = attr
	return resolved, nil
}

// Target returns the entity the terminal attribute belongs to.
func (p *ResolvedPath) Target() *metadata.Entity {
	if len(p.entities) == 0 {
		return p.root
	}
	return p.entities[len(p.entities)-1]
}

// ColumnRef returns the physical SQL reference for the resolved field.
// Paths that traversed associations are qualified by the quoted alias chain
// so they never collide with the root entity's own columns; root-level
// attributes are qualified by the table. Literal overrides pass through.
func (p *ResolvedPath) ColumnRef() string {
	if p.Literal != "" {
		return p.Literal
	}
	if len(p.Assocs) == 0 {
		return p.root.Table + "." + p.Attr.ColumnName()
	}
	return `"` + p.aliases[len(p.aliases)-1] + `".` + p.Attr.ColumnName()
}

// Joins returns the LEFT JOIN chain required to reach the terminal entity.
// BelongsToMany hops contribute two joins, one through the join table.
func (p *ResolvedPath) Joins(reg *metadata.Registry) []Join {
	var joins []Join
	parentRef := p.root.Table
	parent := p.root
	for i, assoc := range p.Assocs {
		target := p.entities[i]
		alias := p.aliases[i]
		switch {
		case assoc.ForeignKeyOnSource():
			fk := columnOf(parent, assoc.ForeignKey)
			joins = append(joins, Join{
				Table: target.Table,
				Alias: alias,
				On:    parentRef + "." + fk + ` = "` + alias + `".` + target.PrimaryKeyColumn(),
			})
		case assoc.IsBelongsToMany():
			through := reg.GetEntity(assoc.Through)
			throughAlias := alias + "." + assoc.Through
			joins = append(joins, Join{
				Table: through.Table,
				Alias: throughAlias,
				On:    `"` + throughAlias + `".` + columnOf(through, assoc.ForeignKey) + " = " + parentRef + "." + parent.PrimaryKeyColumn(),
			})
			joins = append(joins, Join{
				Table: target.Table,
				Alias: alias,
				On:    `"` + alias + `".` + target.PrimaryKeyColumn() + ` = "` + throughAlias + `".` + columnOf(through, assoc.OtherKey),
			})
		default: // has_one, has_many
			fk := columnOf(target, assoc.ForeignKey)
			joins = append(joins, Join{
				Table: target.Table,
				Alias: alias,
				On:    `"` + alias + `".` + fk + " = " + parentRef + "." + parent.PrimaryKeyColumn(),
			})
		}
		parentRef = `"` + alias + `"`
		parent = target
	}
	return joins
}

// columnOf maps an attribute name on an entity to its physical column,
// falling back to the name itself for keys not declared as attributes.
func columnOf(e *metadata.Entity, attrName string) string {
	if attrName == e.PrimaryKey.Attribute {
		return e.PrimaryKeyColumn()
	}
	if a := e.GetAttribute(attrName); a != nil {
		return a.ColumnName()
	}
	return attrName
}
