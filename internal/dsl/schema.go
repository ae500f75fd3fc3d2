package dsl

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"
)

func GetJSONSchema() string {
	return `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["version", "suites"],
		"properties": {
			"version": {
				"type": "integer",
				"enum": [1]
			},
			"project": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"variables": {"$ref": "#/definitions/variables"},
					"environments": {
						"type": "object",
						"additionalProperties": {"$ref": "#/definitions/variables"}
					}
				}
			},
			"suites": {
				"type": "array",
				"items": {"$ref": "#/definitions/suite"},
				"minItems": 1
			}
		},
		"definitions": {
			"variables": {
				"type": "object",
				"propertyNames": {"pattern": "^[A-Za-z_][A-Za-z0-9_.\\-]*$"},
				"additionalProperties": {"type": ["string", "number", "boolean"]}
			},
			"stringMap": {
				"type": "object",
				"additionalProperties": {"type": ["string", "number", "boolean"]}
			},
			"suite": {
				"type": "object",
				"required": ["id", "tests"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"variables": {"$ref": "#/definitions/variables"},
					"tests": {
						"type": "array",
						"items": {"$ref": "#/definitions/test"},
						"minItems": 1
					}
				}
			},
			"test": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"type": {"type": "string", "enum": ["REST", "SOAP", "E2E"]},
					"request": {"$ref": "#/definitions/request"},
					"soap": {"$ref": "#/definitions/soap"},
					"assertions": {
						"type": "array",
						"items": {"$ref": "#/definitions/assertion"}
					},
					"steps": {
						"type": "array",
						"items": {"$ref": "#/definitions/step"},
						"minItems": 1
					}
				},
				"allOf": [
					{
						"if": {"properties": {"type": {"enum": ["REST"]}}},
						"then": {"required": ["request"]}
					},
					{
						"if": {"properties": {"type": {"enum": ["SOAP"]}}},
						"then": {"required": ["soap"]}
					},
					{
						"if": {"properties": {"type": {"enum": ["E2E"]}}},
						"then": {"required": ["steps"]}
					}
				]
			},
			"step": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"request": {"$ref": "#/definitions/request"},
					"soap": {"$ref": "#/definitions/soap"},
					"assertions": {
						"type": "array",
						"items": {"$ref": "#/definitions/assertion"}
					},
					"extract": {
						"type": "array",
						"items": {"$ref": "#/definitions/extractor"}
					}
				},
				"oneOf": [
					{"required": ["request"]},
					{"required": ["soap"]}
				]
			},
			"request": {
				"type": "object",
				"required": ["method", "url"],
				"properties": {
					"method": {
						"type": "string",
						"enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"]
					},
					"url": {"type": "string", "minLength": 1},
					"headers": {"$ref": "#/definitions/stringMap"},
					"query": {"$ref": "#/definitions/stringMap"},
					"body": {
						"type": "object",
						"required": ["type"],
						"properties": {
							"type": {"type": "string", "enum": ["NONE", "JSON", "XML", "TEXT", "FORM", "BINARY"]},
							"content": {"type": "string"},
							"base64": {"type": "string"},
							"form": {"$ref": "#/definitions/stringMap"}
						}
					},
					"auth": {
						"type": "object",
						"required": ["type"],
						"properties": {
							"type": {"type": "string", "enum": ["NONE", "BASIC", "BEARER", "API_KEY"]},
							"in": {"type": "string", "enum": ["header", "query"]}
						}
					}
				}
			},
			"soap": {
				"type": "object",
				"required": ["url", "envelope"],
				"properties": {
					"url": {"type": "string", "minLength": 1},
					"version": {"type": "string", "enum": ["1.1", "1.2"]},
					"action": {"type": "string"},
					"envelope": {"type": "string", "minLength": 1},
					"headers": {"$ref": "#/definitions/stringMap"}
				}
			},
			"assertion": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"id": {"type": "string"},
					"type": {
						"type": "string",
						"enum": [
							"STATUS_EQUALS", "HEADER_EQUALS", "HEADER_EXISTS", "BODY_CONTAINS",
							"JSONPATH_EQUALS", "JSONPATH_EXISTS", "JQ_EQUALS", "JSON_SCHEMA_VALID",
							"REGEX_MATCH", "RESPONSE_TIME_LESS_THAN", "SCRIPT"
						]
					},
					"target": {"type": "string"},
					"expected": {"type": ["string", "number", "boolean"]}
				}
			},
			"extractor": {
				"type": "object",
				"required": ["variable", "source"],
				"properties": {
					"variable": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_.\\-]*$"},
					"source": {"type": "string", "enum": ["JSONPATH", "JSON_PATH", "HEADER", "STATUS", "JQ", "REGEX"]},
					"expression": {"type": "string"}
				}
			}
		}
	}`
}

func ValidateYAMLWithSchema(yamlPayload []byte) error {
	var data interface{}
	if err := yaml.Unmarshal(yamlPayload, &data); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(GetJSONSchema())
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate schema: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for _, desc := range result.Errors() {
			errMsg += fmt.Sprintf("- %s\n", desc)
		}
		return fmt.Errorf("schema validation failed:\n%s", errMsg)
	}

	return nil
}
