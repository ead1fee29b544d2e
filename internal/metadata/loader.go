package metadata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// Graph is the on-disk shape of the entity graph document.
type Graph struct {
	Entities     []*Entity      `json:"entities"`
	Associations []*Association `json:"associations"`
}

// LoadFile reads the entity graph document, validates it against the graph
// schema and populates the registry. Called once at startup.
func LoadFile(path string, reg *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entity graph: %w", err)
	}
	graph, err := Parse(raw)
	if err != nil {
		return err
	}
	reg.Load(graph.Entities, graph.Associations)
	logrus.WithFields(logrus.Fields{
		"entities":     len(graph.Entities),
		"associations": len(graph.Associations),
	}).Info("entity graph loaded")
	return nil
}

// Parse validates and decodes an entity graph document.
func Parse(raw []byte) (*Graph, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(graphSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate entity graph: %w", err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			logrus.WithField("error", desc.String()).Error("entity graph schema violation")
		}
		return nil, fmt.Errorf("entity graph does not match schema (%d violations)", len(result.Errors()))
	}

	var graph Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("decode entity graph: %w", err)
	}
	if err := checkGraph(&graph); err != nil {
		return nil, err
	}
	return &graph, nil
}

// checkGraph enforces the referential invariants the JSON schema cannot
// express: association endpoints must name declared entities, foreign keys
// must live on the right side, and BelongsToMany needs a through entity.
func checkGraph(g *Graph) error {
	byName := make(map[string]*Entity, len(g.Entities))
	for _, e := range g.Entities {
		if _, dup := byName[e.Name]; dup {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		byName[e.Name] = e
	}

	for _, a := range g.Associations {
		src, ok := byName[a.Source]
		if !ok {
			return fmt.Errorf("association %s.%s: unknown source entity", a.Source, a.AliasName())
		}
		tgt, ok := byName[a.Target]
		if !ok {
			return fmt.Errorf("association %s.%s: unknown target entity %q", a.Source, a.AliasName(), a.Target)
		}

		switch a.Kind {
		case BelongsTo:
			if !src.HasAttribute(a.ForeignKey) {
				return fmt.Errorf("association %s.%s: foreign key %q not on source", a.Source, a.AliasName(), a.ForeignKey)
			}
		case HasOne, HasMany:
			if !tgt.HasAttribute(a.ForeignKey) {
				return fmt.Errorf("association %s.%s: foreign key %q not on target", a.Source, a.AliasName(), a.ForeignKey)
			}
		case BelongsToMany:
			through, ok := byName[a.Through]
			if !ok {
				return fmt.Errorf("association %s.%s: unknown through entity %q", a.Source, a.AliasName(), a.Through)
			}
			if !through.HasAttribute(a.ForeignKey) || !through.HasAttribute(a.OtherKey) {
				return fmt.Errorf("association %s.%s: join keys must live on %q", a.Source, a.AliasName(), a.Through)
			}
		default:
			return fmt.Errorf("association %s.%s: unknown kind %q", a.Source, a.AliasName(), a.Kind)
		}
	}
	return nil
}
