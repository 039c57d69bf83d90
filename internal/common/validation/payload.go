package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// snapshotPayloadSchema describes GET /subscriptions/me after envelope unwrapping.
// Nullable fields accept null; unknown fields are tolerated.
var snapshotPayloadSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"hasBillingKey"},
	"properties": map[string]interface{}{
		"status":          map[string]interface{}{"type": []interface{}{"string", "null"}},
		"hasBillingKey":   map[string]interface{}{"type": "boolean"},
		"customerKey":     map[string]interface{}{"type": []interface{}{"string", "null"}},
		"phoneVerifiedAt": map[string]interface{}{"type": []interface{}{"string", "null"}},
	},
}

var snapshotSchema = mustSchema(snapshotPayloadSchema)

func mustSchema(doc map[string]interface{}) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid built-in schema: %v", err))
	}
	return s
}

// ValidateSnapshotPayload checks a decoded snapshot payload against its schema.
func ValidateSnapshotPayload(payload interface{}) error {
	return validateDocument(snapshotSchema, payload)
}

// ValidateDocument checks data against an arbitrary JSON schema document.
func ValidateDocument(schema map[string]interface{}, data interface{}) error {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	return validateDocument(s, data)
}

func validateDocument(s *gojsonschema.Schema, data interface{}) error {
	result, err := s.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("payload does not match schema: %s", strings.Join(msgs, "; "))
}
