package metadata

import "sync"

type Registry struct {
	mu             sync.RWMutex
	entities       map[string]*Entity
	assocsBySource map[string][]*Association
	assocsByAlias  map[string]*Association // keyed by source + "\x00" + alias
}

func NewRegistry() *Registry {
	return &Registry{
		entities:       make(map[string]*Entity),
		assocsBySource: make(map[string][]*Association),
		assocsByAlias:  make(map[string]*Association),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// GetAssociation looks up the association a source entity declares under
// the given alias, or nil.
func (r *Registry) GetAssociation(source, alias string) *Association {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assocsByAlias[source+"\x00"+alias]
}

// AssociationsForSource returns all associations declared by an entity.
func (r *Registry) AssociationsForSource(source string) []*Association {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assocsBySource[source]
}

// FindAssociation returns the first association connecting source to the
// given target entity, or nil. Used by the timestamp hierarchy resolver.
func (r *Registry) FindAssociation(source, target string) *Association {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assocsBySource[source] {
		if a.Target == target {
			return a
		}
	}
	return nil
}

// Load replaces all entities and associations in the registry. Called once
// at startup; the graph is immutable afterwards.
func (r *Registry) Load(entities []*Entity, associations []*Association) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.assocsBySource = make(map[string][]*Association)
	r.assocsByAlias = make(map[string]*Association, len(associations))
	for _, a := range associations {
		r.assocsBySource[a.Source] = append(r.assocsBySource[a.Source], a)
		r.assocsByAlias[a.Source+"\x00"+a.AliasName()] = a
	}
}
