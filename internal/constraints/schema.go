package constraints

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const extractionSchemaJSON = `{
	"type": "object",
	"required": ["must", "must_not", "should"],
	"properties": {
		"must": {
			"type": "array", "minItems": 3, "maxItems": 8,
			"items": {
				"type": "object",
				"required": ["id", "statement", "source"],
				"properties": {
					"id": {"type": "string"},
					"statement": {"type": "string"},
					"source": {"type": "string"}
				}
			}
		},
		"must_not": {
			"type": "array", "minItems": 2, "maxItems": 5,
			"items": {
				"type": "object",
				"required": ["id", "statement", "source"],
				"properties": {
					"id": {"type": "string"},
					"statement": {"type": "string"},
					"source": {"type": "string"}
				}
			}
		},
		"should": {
			"type": "array", "minItems": 2, "maxItems": 5,
			"items": {
				"type": "object",
				"required": ["id", "statement"],
				"properties": {
					"id": {"type": "string"},
					"statement": {"type": "string"}
				}
			}
		}
	}
}`

const validationSchemaJSON = `{
	"type": "object",
	"required": ["verdict", "must_checks", "must_not_checks"],
	"properties": {
		"verdict": {"type": "string", "enum": ["PASS", "FAIL"]},
		"must_checks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "status"],
				"properties": {
					"id": {"type": "string"},
					"status": {"type": "string", "enum": ["DELIVERED", "NOT_DELIVERED"]},
					"quote": {"type": "string"}
				}
			}
		},
		"must_not_checks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "status"],
				"properties": {
					"id": {"type": "string"},
					"status": {"type": "string", "enum": ["CLEAR", "VIOLATED"]},
					"quote": {"type": "string"}
				}
			}
		},
		"specific_issues": {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	extractionSchema *jsonschema.Schema
	validationSchema *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	mustAddResource(c, "extraction.json", extractionSchemaJSON)
	mustAddResource(c, "validation.json", validationSchemaJSON)

	var err error
	extractionSchema, err = c.Compile("extraction.json")
	if err != nil {
		panic("constraints: invalid extraction schema: " + err.Error())
	}
	validationSchema, err = c.Compile("validation.json")
	if err != nil {
		panic("constraints: invalid validation schema: " + err.Error())
	}
}

func mustAddResource(c *jsonschema.Compiler, name, doc string) {
	if err := c.AddResource(name, strings.NewReader(doc)); err != nil {
		panic("constraints: invalid schema resource " + name + ": " + err.Error())
	}
}
