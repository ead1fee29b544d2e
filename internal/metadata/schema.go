package metadata

// graphSchema is the JSON schema the entity graph document must satisfy.
// Referential checks across entities happen in checkGraph.
const graphSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["entities"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "table", "primary_key", "attributes"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "table": {"type": "string", "minLength": 1},
          "primary_key": {
            "type": "object",
            "required": ["attribute", "type"],
            "properties": {
              "attribute": {"type": "string", "minLength": 1},
              "column": {"type": "string"},
              "type": {"enum": ["uuid", "int", "bigint", "string"]},
              "generated": {"type": "boolean"}
            }
          },
          "timestamps": {"type": "boolean"},
          "status_attribute": {"type": "string"},
          "info_foreign_key": {"type": "string"},
          "search_attributes": {"type": "array", "items": {"type": "string"}},
          "immutable_attributes": {"type": "array", "items": {"type": "string"}},
          "attributes": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "column": {"type": "string"},
                "type": {"type": "string"},
                "nullable": {"type": "boolean"}
              }
            }
          },
          "path_overrides": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "properties": {
                "path": {"type": "string"},
                "literal": {"type": "string"}
              }
            }
          },
          "timestamp_hierarchy": {"type": "array", "items": {"$ref": "#/definitions/hierarchy"}}
        }
      }
    },
    "associations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "source", "target", "foreign_key"],
        "properties": {
          "kind": {"enum": ["belongs_to", "has_one", "has_many", "belongs_to_many"]},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "alias": {"type": "string"},
          "foreign_key": {"type": "string", "minLength": 1},
          "through": {"type": "string"},
          "other_key": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "hierarchy": {
      "type": "object",
      "required": ["entity"],
      "properties": {
        "entity": {"type": "string", "minLength": 1},
        "children": {"type": "array", "items": {"$ref": "#/definitions/hierarchy"}}
      }
    }
  }
}`
