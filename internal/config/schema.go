package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidDocument is returned when a configuration file does not match
// the configuration schema.
var ErrInvalidDocument = errors.New("config: document does not match schema")

const schemaURL = "imbroker-config.schema.json"

// configSchema describes the on-disk shape of Config. It rejects unknown
// keys and wrong types; range checks live in ValidateConfig.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "bus": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "address": {"type": "string"},
        "service_name": {"type": "string", "minLength": 1},
        "object_path": {"type": "string", "pattern": "^/"},
        "interface": {"type": "string", "minLength": 1},
        "client_interface": {"type": "string", "minLength": 1},
        "signal_backends": {"type": "boolean"}
      }
    },
    "broker": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "query_timeout_ms": {"type": "integer"},
        "ping_timeout_ms": {"type": "integer"},
        "sweep_interval_sec": {"type": "integer"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "warning", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"enum": ["stdout", "stderr", "file", "both"]},
        "file_path": {"type": "string"},
        "max_size_mb": {"type": "integer"},
        "max_backups": {"type": "integer"},
        "compress": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "listen_addr": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(configSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

// validateDocument checks a decoded document against the schema. The
// document is normalised through JSON first so TOML and YAML values carry
// the same types as JSON ones.
func validateDocument(doc map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("normalise document: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// Schema returns the JSON Schema configuration files are checked against.
func Schema() string {
	return configSchema
}
