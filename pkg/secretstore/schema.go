package secretstore

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// fieldSchemas constrains the well-known fields when they are required
var fieldSchemas = map[string]map[string]interface{}{
	FieldHost:     {"type": "string", "minLength": 1},
	FieldPort:     {"type": []string{"integer", "string"}, "minimum": 1, "maximum": 65535, "minLength": 1},
	FieldUsername: {"type": "string", "minLength": 1},
	FieldPassword: {"type": "string", "minLength": 1},
	FieldDatabase: {"type": "string", "minLength": 1},
}

// ValidatePayload checks that the payload carries every field in required with
// a usable value. The returned error is a ConfigError naming the bad fields;
// where describes the payload (for example "AWSPENDING secret").
func ValidatePayload(p Payload, where string, required ...string) error {
	if len(required) == 0 {
		return nil
	}

	properties := make(map[string]interface{}, len(required))
	for _, field := range required {
		if s, ok := fieldSchemas[field]; ok {
			properties[field] = s
		} else {
			properties[field] = map[string]interface{}{}
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"required":   required,
		"properties": properties,
	}

	doc := map[string]interface{}(p)
	if doc == nil {
		doc = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", where, err)
	}
	if result.Valid() {
		return nil
	}

	seen := map[string]bool{}
	var bad []string
	for _, desc := range result.Errors() {
		field := desc.Field()
		if desc.Type() == "required" {
			if prop, ok := desc.Details()["property"].(string); ok {
				field = prop
			}
		}
		if !seen[field] {
			seen[field] = true
			bad = append(bad, field)
		}
	}
	sort.Strings(bad)

	return dberrors.MissingFields(where, bad)
}
