package policy

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const policySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "rules"],
  "properties": {
    "schema": {"const": "oep288/policy/v1"},
    "engine": {"type": "string"},
    "default_effect": {"const": "deny"},
    "rules": {
      "type": "array",
      "items": {"$ref": "#/$defs/rule"}
    }
  },
  "additionalProperties": false,
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["id", "effect"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "effect": {"enum": ["allow", "deny"]},
        "reason": {"type": "string"},
        "when": {"$ref": "#/$defs/predicate"}
      },
      "additionalProperties": false
    },
    "predicate": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "equals": {
          "type": "object",
          "required": ["path", "value"],
          "properties": {
            "path": {"type": "string", "minLength": 1},
            "value": {"type": ["string", "number"]}
          },
          "additionalProperties": false
        },
        "in": {
          "type": "object",
          "required": ["path", "values"],
          "properties": {
            "path": {"type": "string", "minLength": 1},
            "values": {
              "type": "array",
              "minItems": 1,
              "items": {"type": ["string", "number"]}
            }
          },
          "additionalProperties": false
        },
        "range": {
          "type": "object",
          "required": ["path"],
          "properties": {
            "path": {"type": "string", "minLength": 1},
            "min": {"type": ["string", "number"]},
            "max": {"type": ["string", "number"]}
          },
          "additionalProperties": false
        },
        "exists": {
          "type": "object",
          "required": ["path"],
          "properties": {
            "path": {"type": "string", "minLength": 1}
          },
          "additionalProperties": false
        },
        "all": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#/$defs/predicate"}
        },
        "any": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#/$defs/predicate"}
        },
        "not": {"$ref": "#/$defs/predicate"},
        "expr": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    }
  }
}`

var policySchema = jsonschema.MustCompileString("oep288/policy/v1.schema.json", policySchemaJSON)

// validatePolicySchema checks the YAML-decoded document against the embedded
// schema. The document is round-tripped through encoding/json first so the
// validator sees JSON-shaped values regardless of what the YAML decoder
// produced.
func validatePolicySchema(generic any) error {
	normalized, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return err
	}
	return policySchema.Validate(doc)
}
