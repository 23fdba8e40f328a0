package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// BuildTemplateJSONSchema returns a JSON-Schema (draft 2020-12 subset) for a template.
// Every field is optional; unknown keys are rejected so drift shows up as a parse note.
func BuildTemplateJSONSchema(tmpl entity.Template) map[string]any {
	props := make(map[string]any, len(tmpl))
	for name, hint := range tmpl {
		ft, ok := constants.CanonicalizeFieldType(hint)
		prop := fieldProp(ft)
		if !ok && hint != "" {
			prop["description"] = hint
		}
		props[name] = prop
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

func fieldProp(ft constants.FieldType) map[string]any {
	switch ft {
	case constants.FieldNumber:
		return map[string]any{"type": "number"}
	case constants.FieldInteger:
		return map[string]any{"type": "integer"}
	case constants.FieldBoolean:
		return map[string]any{"type": "boolean"}
	case constants.FieldDate:
		return map[string]any{"type": "string", "description": "ISO-8601 date (YYYY, YYYY-MM or YYYY-MM-DD)"}
	case constants.FieldList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	default:
		return map[string]any{"type": "string"}
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
