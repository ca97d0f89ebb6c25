// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Structural JSON Schemas for the three manifest kinds. They pin down
// required fields and field types only; unknown fields stay allowed for
// forward compatibility. Field-level semantics (identity uniqueness,
// reference containment, parameter constraints) are enforced in Go.
const (
	caseSchemaJSON = `{
		"type": "object",
		"required": ["id", "name", "version"],
		"properties": {
			"schemaVersion": {"type": "integer"},
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"category": {"type": "string"},
			"version": {"type": "string", "minLength": 1},
			"privilege": {"enum": ["User", "AdminPreferred", "AdminRequired"]},
			"timeoutSec": {"type": "integer", "minimum": 0},
			"script": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"parameters": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name", "type"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"type": {"enum": [
							"string", "int", "double", "bool", "enum",
							"path", "file", "folder",
							"stringArray", "intArray", "doubleArray"
						]},
						"required": {"type": "boolean"},
						"min": {"type": "number"},
						"max": {"type": "number"},
						"values": {"type": "array", "items": {"type": "string"}},
						"pattern": {"type": "string"}
					}
				}
			}
		}
	}`

	groupNodesJSON = `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["nodeId"],
			"properties": {
				"nodeId": {"type": "string", "minLength": 1},
				"case": {"type": "string"},
				"suite": {"type": "string"},
				"inputs": {"type": "object"},
				"env": {"type": "object", "additionalProperties": {"type": "string"}},
				"retryOnError": {"type": "integer", "minimum": 0},
				"continueOnFailure": {"type": "boolean"},
				"repeat": {"type": "integer", "minimum": 0}
			}
		}
	}`

	suiteSchemaJSON = `{
		"type": "object",
		"required": ["id", "name", "version", "nodes"],
		"properties": {
			"schemaVersion": {"type": "integer"},
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"version": {"type": "string", "minLength": 1},
			"environment": {"type": "object", "additionalProperties": {"type": "string"}},
			"nodes": ` + groupNodesJSON + `
		}
	}`

	planSchemaJSON = `{
		"type": "object",
		"required": ["id", "name", "version", "nodes"],
		"properties": {
			"schemaVersion": {"type": "integer"},
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"version": {"type": "string", "minLength": 1},
			"environment": {"type": "object", "additionalProperties": {"type": "string"}},
			"nodes": ` + groupNodesJSON + `
		}
	}`
)

// compiledSchema wraps a compiled JSON Schema for manifest validation.
type compiledSchema struct {
	sch *jsonschema.Schema
}

// validate checks a raw manifest document against the schema.
func (s *compiledSchema) validate(b []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return s.sch.Validate(doc)
}

// mustCompile compiles a schema constant. Compilation can only fail on a
// programming error, so it panics.
func mustCompile(name, text string) *compiledSchema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(text)))
	if err != nil {
		panic(fmt.Sprintf("manifest: broken schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("manifest: broken schema %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("manifest: broken schema %s: %v", name, err))
	}
	return &compiledSchema{sch: sch}
}

var (
	schemaOnce   sync.Once
	caseSchemaC  *compiledSchema
	suiteSchemaC *compiledSchema
	planSchemaC  *compiledSchema
)

func compileSchemas() {
	schemaOnce.Do(func() {
		caseSchemaC = mustCompile("case.schema.json", caseSchemaJSON)
		suiteSchemaC = mustCompile("suite.schema.json", suiteSchemaJSON)
		planSchemaC = mustCompile("plan.schema.json", planSchemaJSON)
	})
}

func caseSchema() *compiledSchema {
	compileSchemas()
	return caseSchemaC
}

func suiteSchema() *compiledSchema {
	compileSchemas()
	return suiteSchemaC
}

func planSchema() *compiledSchema {
	compileSchemas()
	return planSchemaC
}
