package models

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// BookSchema returns the JSON schema of book.json.
func BookSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Book{})
	s.Title = "book.json"
	return s
}

// BookSchemaJSON returns the indented JSON encoding of BookSchema.
func BookSchemaJSON() ([]byte, error) {
	return json.MarshalIndent(BookSchema(), "", "  ")
}
