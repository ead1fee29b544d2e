package metadata

// Entity describes one table of the entity graph: its attributes, primary
// key and the per-entity knobs the engine reads (timestamps, soft-delete
// status attribute, audit foreign key, search attributes, path overrides).
type Entity struct {
	Name             string              `json:"name"`
	Table            string              `json:"table"`
	PrimaryKey       PrimaryKey          `json:"primary_key"`
	Timestamps       bool                `json:"timestamps,omitempty"`
	StatusAttribute  string              `json:"status_attribute,omitempty"`
	InfoForeignKey   string              `json:"info_foreign_key,omitempty"`
	SearchAttributes []string            `json:"search_attributes,omitempty"`
	ImmutableAttrs   []string            `json:"immutable_attributes,omitempty"`
	Attributes       []Attribute         `json:"attributes"`
	PathOverrides    map[string]Override `json:"path_overrides,omitempty"`
	Hierarchy        []*HierarchyNode    `json:"timestamp_hierarchy,omitempty"`
}

type PrimaryKey struct {
	Attribute string `json:"attribute"`
	Column    string `json:"column,omitempty"` // physical name, defaults to Attribute
	Type      string `json:"type"`             // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

type Attribute struct {
	Name     string `json:"name"`
	Column   string `json:"column,omitempty"` // physical name, defaults to Name
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Override remaps an input path string before resolution. Exactly one of
// Path or Literal is set: Path re-resolves through the association graph,
// Literal plugs in an opaque expression with no associations.
type Override struct {
	Path    string `json:"path,omitempty"`
	Literal string `json:"literal,omitempty"`
}

// HierarchyNode names a related entity whose timestamps contribute to the
// parent's effective last-modified time. The tree is rooted at the entity
// that declares it; the root itself is not listed as a node.
type HierarchyNode struct {
	Entity   string           `json:"entity"`
	Children []*HierarchyNode `json:"children,omitempty"`
}

// ColumnName returns the physical column for an attribute.
func (a Attribute) ColumnName() string {
	if a.Column != "" {
		return a.Column
	}
	return a.Name
}

// GetAttribute returns a pointer to the attribute with the given name, or nil.
func (e *Entity) GetAttribute(name string) *Attribute {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			return &e.Attributes[i]
		}
	}
	return nil
}

// HasAttribute returns true if the entity has an attribute with the given name.
func (e *Entity) HasAttribute(name string) bool {
	return e.GetAttribute(name) != nil
}

// PrimaryKeyColumn returns the physical column the primary key maps to.
func (e *Entity) PrimaryKeyColumn() string {
	if e.PrimaryKey.Column != "" {
		return e.PrimaryKey.Column
	}
	return e.PrimaryKey.Attribute
}

// AttributeColumns returns the physical column names of all attributes.
func (e *Entity) AttributeColumns() []string {
	cols := make([]string, len(e.Attributes))
	for i, a := range e.Attributes {
		cols[i] = a.ColumnName()
	}
	return cols
}
