package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

var (
	errNoObject   = errors.New("response contains no JSON object")
	leadingNumber = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)
)

// StripCodeFences removes a surrounding ``` or ```json fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// objectSpan returns the substring from the first '{' to the last '}'.
func objectSpan(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

// CoerceToTemplate parses a model response and nudges each value toward the
// template's declared type. Unknown keys are matched loosely against template
// names and dropped when nothing matches; nulls and empty strings are dropped.
// The returned slice lists the keys that were dropped.
func CoerceToTemplate(raw string, tmpl entity.Template, logger *slog.Logger) (map[string]any, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	body, err := objectSpan(StripCodeFences(raw))
	if err != nil {
		return nil, nil, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var in map[string]any
	if err := dec.Decode(&in); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}

	lookup := make(map[string]string, len(tmpl))
	for name := range tmpl {
		lookup[looseKey(name)] = name
	}

	out := make(map[string]any, len(in))
	var dropped []string
	for k, v := range in {
		name, ok := lookup[looseKey(k)]
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		ft, _ := constants.CanonicalizeFieldType(tmpl[name])
		cv, keep := coerceValue(v, ft)
		if !keep {
			dropped = append(dropped, k)
			continue
		}
		out[name] = cv
	}

	if len(dropped) > 0 {
		logger.Debug("llm.extract.normalize_sanitize", "dropped", dropped, "kept", len(out))
	}
	return out, dropped, nil
}

func looseKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	r := strings.NewReplacer(" ", "_", "-", "_", ".", "_")
	return r.Replace(s)
}

func coerceValue(v any, ft constants.FieldType) (any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return nil, false
		}
		v = s
	}

	switch ft {
	case constants.FieldNumber:
		if f, ok := toFloat(v); ok {
			return f, true
		}
	case constants.FieldInteger:
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int64(f), true
		}
	case constants.FieldBoolean:
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			switch strings.ToLower(t) {
			case "true", "yes", "y":
				return true, true
			case "false", "no", "n":
				return false, true
			}
		}
	case constants.FieldList:
		switch t := v.(type) {
		case []any:
			items := make([]any, 0, len(t))
			for _, it := range t {
				if s, ok := scalarString(it); ok && s != "" {
					items = append(items, s)
				}
			}
			return items, len(items) > 0
		case string:
			parts := strings.FieldsFunc(t, func(r rune) bool { return r == ';' || r == '\n' })
			items := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					items = append(items, p)
				}
			}
			return items, len(items) > 0
		}
	default:
		if t, ok := v.([]any); ok {
			parts := make([]string, 0, len(t))
			for _, it := range t {
				if s, ok := scalarString(it); ok && s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "; "), len(parts) > 0
		}
		if s, ok := scalarString(v); ok {
			return s, true
		}
	}
	// left as-is; schema validation decides
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return v, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		m := leadingNumber.FindString(t)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
