package metadata

// Association kinds. For BelongsTo the foreign key lives on the source
// entity; for HasOne/HasMany/BelongsToMany it lives on the target (or on
// the through entity for BelongsToMany).
const (
	BelongsTo     = "belongs_to"
	HasOne        = "has_one"
	HasMany       = "has_many"
	BelongsToMany = "belongs_to_many"
)

type Association struct {
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	Alias      string `json:"alias,omitempty"` // name the source uses for the target, defaults to Target
	ForeignKey string `json:"foreign_key"`
	Through    string `json:"through,omitempty"`   // join entity, BelongsToMany only
	OtherKey   string `json:"other_key,omitempty"` // reciprocal FK on the join entity
}

// AliasName returns the name by which the source refers to the target.
func (a *Association) AliasName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Target
}

// ForeignKeyOnSource reports whether the source row must hold the resolved
// target id before it can be saved.
func (a *Association) ForeignKeyOnSource() bool {
	return a.Kind == BelongsTo
}

// Collection reports whether the association addresses many target rows.
func (a *Association) Collection() bool {
	return a.Kind == HasMany || a.Kind == BelongsToMany
}

func (a *Association) IsBelongsToMany() bool {
	return a.Kind == BelongsToMany
}
