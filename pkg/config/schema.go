package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema generates the JSON Schema for the YAML configuration tree.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&Config{})
	schema.ID = "https://nestorlabs.dev/schemas/config.json"
	schema.Title = "Nestor Configuration Schema"
	schema.Description = "Configuration schema for the Nestor agent runtime"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	return schema
}

// SchemaJSON renders the schema, optionally indented.
func SchemaJSON(indent bool) ([]byte, error) {
	schema := Schema()
	if indent {
		return json.MarshalIndent(schema, "", "  ")
	}
	return json.Marshal(schema)
}
