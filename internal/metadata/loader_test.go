package metadata

import (
	"strings"
	"testing"
)

const validGraph = `{
  "entities": [
    {
      "name": "order", "table": "orders",
      "primary_key": {"attribute": "id", "type": "uuid", "generated": true},
      "timestamps": true,
      "attributes": [
        {"name": "reference", "type": "string"},
        {"name": "customer_id", "type": "uuid", "nullable": true},
        {"name": "created_at", "type": "datetime", "nullable": true},
        {"name": "updated_at", "type": "datetime", "nullable": true}
      ]
    },
    {
      "name": "customer", "table": "customers",
      "primary_key": {"attribute": "id", "type": "uuid", "generated": true},
      "attributes": [{"name": "name", "type": "string"}]
    }
  ],
  "associations": [
    {"kind": "belongs_to", "source": "order", "target": "customer", "foreign_key": "customer_id"},
    {"kind": "has_many", "source": "customer", "target": "order", "alias": "orders", "foreign_key": "customer_id"}
  ]
}`

func TestParseValidGraph(t *testing.T) {
	graph, err := Parse([]byte(validGraph))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(graph.Entities) != 2 || len(graph.Associations) != 2 {
		t.Fatalf("unexpected graph shape: %d entities, %d associations",
			len(graph.Entities), len(graph.Associations))
	}

	reg := NewRegistry()
	reg.Load(graph.Entities, graph.Associations)

	order := reg.GetEntity("order")
	if order == nil {
		t.Fatal("order entity not registered")
	}
	if !order.Timestamps {
		t.Fatal("timestamps flag lost")
	}
	if a := reg.GetAssociation("customer", "orders"); a == nil || a.Kind != HasMany {
		t.Fatalf("aliased association not resolvable: %+v", a)
	}
	if a := reg.GetAssociation("order", "customer"); a == nil || a.Kind != BelongsTo {
		t.Fatalf("unaliased association must resolve by target name: %+v", a)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing entities key": `{"associations": []}`,
		"entity without table": `{"entities": [
			{"name": "x", "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []}
		]}`,
		"bad primary key type": `{"entities": [
			{"name": "x", "table": "xs", "primary_key": {"attribute": "id", "type": "float"}, "attributes": []}
		]}`,
		"bad association kind": `{
			"entities": [
				{"name": "x", "table": "xs", "primary_key": {"attribute": "id", "type": "uuid"},
				 "attributes": [{"name": "y_id", "type": "uuid"}]}
			],
			"associations": [{"kind": "owns", "source": "x", "target": "x", "foreign_key": "y_id"}]
		}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected a schema error", name)
		}
	}
}

func TestParseRejectsReferentialErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown target",
			doc: `{
				"entities": [
					{"name": "order", "table": "orders",
					 "primary_key": {"attribute": "id", "type": "uuid"},
					 "attributes": [{"name": "customer_id", "type": "uuid"}]}
				],
				"associations": [
					{"kind": "belongs_to", "source": "order", "target": "customer", "foreign_key": "customer_id"}
				]
			}`,
			want: "unknown target entity",
		},
		{
			name: "belongs_to foreign key on wrong side",
			doc: `{
				"entities": [
					{"name": "order", "table": "orders",
					 "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []},
					{"name": "customer", "table": "customers",
					 "primary_key": {"attribute": "id", "type": "uuid"},
					 "attributes": [{"name": "order_id", "type": "uuid"}]}
				],
				"associations": [
					{"kind": "belongs_to", "source": "order", "target": "customer", "foreign_key": "order_id"}
				]
			}`,
			want: "not on source",
		},
		{
			name: "belongs_to_many without through entity",
			doc: `{
				"entities": [
					{"name": "order", "table": "orders",
					 "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []},
					{"name": "tag", "table": "tags",
					 "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []}
				],
				"associations": [
					{"kind": "belongs_to_many", "source": "order", "target": "tag",
					 "foreign_key": "order_id", "through": "order_tag", "other_key": "tag_id"}
				]
			}`,
			want: "unknown through entity",
		},
		{
			name: "duplicate entity",
			doc: `{
				"entities": [
					{"name": "order", "table": "orders",
					 "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []},
					{"name": "order", "table": "orders2",
					 "primary_key": {"attribute": "id", "type": "uuid"}, "attributes": []}
				]
			}`,
			want: "duplicate entity",
		},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.doc))
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}
