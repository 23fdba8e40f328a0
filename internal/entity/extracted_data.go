package entity

import (
	"encoding/json"
	"fmt"
)

// DataKind tags which variant an ExtractedData holds.
type DataKind string

const (
	DataStructured  DataKind = "structured"
	DataRawUnparsed DataKind = "raw_unparsed"
	DataNarrative   DataKind = "narrative"
)

// ExtractedData is the AI-derived output of a document.
// Exactly one variant is populated, selected by Kind.
type ExtractedData struct {
	Kind DataKind

	// structured
	Fields map[string]any

	// raw_unparsed
	Raw       string
	ParseNote string

	// narrative
	Narrative string
}

func Structured(fields map[string]any) *ExtractedData {
	return &ExtractedData{Kind: DataStructured, Fields: fields}
}

func RawUnparsed(raw, note string) *ExtractedData {
	return &ExtractedData{Kind: DataRawUnparsed, Raw: raw, ParseNote: note}
}

func Narrative(text string) *ExtractedData {
	return &ExtractedData{Kind: DataNarrative, Narrative: text}
}

// Object renders the variant as the plain JSON object callers see.
func (d *ExtractedData) Object() map[string]any {
	if d == nil {
		return nil
	}
	switch d.Kind {
	case DataStructured:
		if d.Fields == nil {
			return map[string]any{}
		}
		return d.Fields
	case DataRawUnparsed:
		return map[string]any{"raw_response": d.Raw, "parse_error": d.ParseNote}
	case DataNarrative:
		return map[string]any{"analysis": d.Narrative}
	}
	return nil
}

// ObjectJSON is Object encoded for storage.
func (d *ExtractedData) ObjectJSON() (string, error) {
	b, err := json.Marshal(d.Object())
	if err != nil {
		return "", fmt.Errorf("encode extracted data: %w", err)
	}
	return string(b), nil
}

// ExtractedDataFromObject is the inverse of Object.
func ExtractedDataFromObject(kind DataKind, raw []byte) (*ExtractedData, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode extracted data: %w", err)
	}
	switch kind {
	case DataStructured:
		return Structured(obj), nil
	case DataRawUnparsed:
		r, _ := obj["raw_response"].(string)
		n, _ := obj["parse_error"].(string)
		return RawUnparsed(r, n), nil
	case DataNarrative:
		a, _ := obj["analysis"].(string)
		return Narrative(a), nil
	}
	return nil, fmt.Errorf("unknown extracted data kind %q", kind)
}

type extractedDataEnvelope struct {
	Kind DataKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (d ExtractedData) MarshalJSON() ([]byte, error) {
	obj, err := json.Marshal(d.Object())
	if err != nil {
		return nil, err
	}
	return json.Marshal(extractedDataEnvelope{Kind: d.Kind, Data: obj})
}

func (d *ExtractedData) UnmarshalJSON(b []byte) error {
	var env extractedDataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	out, err := ExtractedDataFromObject(env.Kind, env.Data)
	if err != nil {
		return err
	}
	*d = *out
	return nil
}
