// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/copima/copima/internal/errors"
)

// ValidateFileSchema checks a config file's structure against the embedded
// JSON schema before it ever reaches the resolver. Backs `config validate`.
func ValidateFileSchema(path string) ([]Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(fmt.Errorf("parse %s: %w", path, err), errors.ErrConfigInvalid)
	}
	doc = normalizeYAML(doc)

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid)
	}

	var issues []Issue
	for _, desc := range result.Errors() {
		issues = append(issues, Issue{
			Field:    desc.Field(),
			Severity: SeverityError,
			Message:  desc.Description(),
		})
	}
	return issues, nil
}

// normalizeYAML converts map[interface{}]interface{} trees produced by YAML
// decoding into map[string]interface{} for the schema loader.
func normalizeYAML(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

// configSchemaJSON is the embedded structural schema for copima config files.
var configSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "copima configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "gitlab": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "accessToken": {"type": "string"},
        "refreshToken": {"type": "string"},
        "accountId": {"type": "string"},
        "timeout": {"type": ["string", "integer"]},
        "maxConcurrency": {"type": "integer", "minimum": 1},
        "rateLimit": {"type": "integer", "minimum": 1}
      }
    },
    "database": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "path": {"type": "string"},
        "walMode": {"type": "boolean"},
        "timeout": {"type": ["string", "integer"]}
      }
    },
    "output": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "rootDir": {"type": "string"},
        "fileNaming": {"type": "string", "enum": ["lowercase", "kebab-case", "snake_case"]},
        "prettyPrint": {"type": "boolean"},
        "compression": {"type": "string", "enum": ["none", "gzip", "brotli"]}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "warning", "error"]},
        "format": {"type": "string", "enum": ["console", "json"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "colors": {"type": "boolean"}
      }
    },
    "progress": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "file": {"type": "string"},
        "interval": {"type": ["string", "integer"]}
      }
    },
    "resume": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "stateFile": {"type": "string"},
        "autoSaveInterval": {"type": ["string", "integer"]}
      }
    },
    "oauth2": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "providers": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "clientId": {"type": "string"},
              "clientSecret": {"type": "string"},
              "authorizationUrl": {"type": "string"},
              "tokenUrl": {"type": "string"},
              "redirectUri": {"type": "string"},
              "scopes": {"type": "array", "items": {"type": "string"}}
            }
          }
        },
        "server": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "port": {"type": "integer", "minimum": 1, "maximum": 65535},
            "callbackPath": {"type": "string"},
            "timeout": {"type": ["string", "integer"]}
          }
        }
      }
    }
  }
}`
