package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

const brokerSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "listenAddress": {"type": "string"},
    "heartbeatIntervalSeconds": {"type": "integer"},
    "writeTimeoutSeconds": {"type": "integer"},
    "minProviderVersion": {"type": "string"},
    "identityStorePath": {"type": "string"},
    "timeouts": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "statusSeconds": {"type": "integer"},
        "listSeconds": {"type": "integer"},
        "commandSeconds": {"type": "integer"},
        "broadcastSeconds": {"type": "integer"},
        "pullSeconds": {"type": "integer"},
        "streamSeconds": {"type": "integer"}
      }
    },
    "observability": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "listenAddress": {"type": "string"},
        "metrics": {"type": "boolean"},
        "healthz": {"type": "boolean"}
      }
    },
    "rpc": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "listenAddress": {"type": "string"},
        "keepaliveTimeSeconds": {"type": "integer"},
        "keepaliveTimeoutSeconds": {"type": "integer"}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string"},
        "encoding": {"type": "string", "enum": ["json", "console"]}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	resolvedSchema *jsonschema.Resolved
	schemaErr      error
)

func brokerSchema() (*jsonschema.Resolved, error) {
	schemaOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(brokerSchemaJSON), &schema); err != nil {
			schemaErr = fmt.Errorf("parse config schema: %w", err)
			return
		}
		resolvedSchema, schemaErr = schema.Resolve(nil)
	})
	return resolvedSchema, schemaErr
}

// validateSchema checks the env-expanded YAML document against the broker schema.
func validateSchema(expanded string) error {
	resolved, err := brokerSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// Round-trip through JSON so numbers and maps take the shapes the validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
