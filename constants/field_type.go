package constants

import (
	"strings"
)

// FieldType is the canonical value type of one extraction-template field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldList    FieldType = "list"
)

var allFieldTypes = []FieldType{
	FieldString,
	FieldNumber,
	FieldInteger,
	FieldBoolean,
	FieldDate,
	FieldList,
}

func FieldTypesAsStringSlice() []string {
	result := make([]string, len(allFieldTypes))
	for i, ft := range allFieldTypes {
		result[i] = string(ft)
	}
	return result
}

// CanonicalizeFieldType maps the loose type names users put in templates onto a FieldType.
// Anything unrecognised is treated as free text.
func CanonicalizeFieldType(input string) (FieldType, bool) {
	if input == "" {
		return FieldString, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]FieldType{
		"text":     FieldString,
		"str":      FieldString,
		"float":    FieldNumber,
		"decimal":  FieldNumber,
		"double":   FieldNumber,
		"int":      FieldInteger,
		"count":    FieldInteger,
		"bool":     FieldBoolean,
		"yes/no":   FieldBoolean,
		"year":     FieldInteger,
		"array":    FieldList,
		"[]":       FieldList,
		"string[]": FieldList,
		"datetime": FieldDate,
	}

	if ft, ok := synonyms[normalized]; ok {
		return ft, true
	}

	for _, ft := range allFieldTypes {
		if normalized == string(ft) {
			return ft, true
		}
	}

	return FieldString, false
}
