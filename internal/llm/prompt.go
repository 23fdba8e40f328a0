package llm

import (
	"strings"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

const defaultMaxPromptChars = 48_000

const dataExtractionSystem = "You extract structured data from research documents. " +
	"Return ONLY a JSON object that matches the provided JSON Schema. " +
	"Use the document's own wording for text fields. " +
	"If a field is not reported in the document, omit it. Never output null. " +
	"Numbers must be JSON numbers without units. Dates use ISO-8601 (YYYY-MM-DD or YYYY)."

const fullAnalysisSystem = "You are an experienced systematic-review methodologist. " +
	"Read the research document and write a concise critical appraisal in plain prose with these headed sections: " +
	"Methodology, Key Findings, Limitations, Relevance. " +
	"Be specific about study design, sample, and measures. Do not invent details that are not in the text."

// BuildDataExtractionPrompt returns the system and user messages for data_extraction.
func BuildDataExtractionPrompt(text, fileName string, tmpl entity.Template, schemaJSON string, maxChars int) Completion {
	var b strings.Builder
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		b.WriteString("Filename: ")
		b.WriteString(fileName)
		b.WriteString("\n")
	}
	b.WriteString("\nFields to extract:\n")
	for _, name := range tmpl.Fields() {
		hint := strings.TrimSpace(tmpl[name])
		b.WriteString("- ")
		b.WriteString(name)
		if ft, ok := constants.CanonicalizeFieldType(hint); ok {
			b.WriteString(" (" + string(ft) + ")")
		} else if hint != "" {
			b.WriteString(": " + hint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nJSON Schema:\n")
	b.WriteString(schemaJSON)
	b.WriteString("\n\nDocument text:\n")
	b.WriteString(clip(text, maxChars))
	b.WriteString("\n\nReturn ONLY JSON that matches the schema.")
	return Completion{System: dataExtractionSystem, User: b.String(), JSONMode: true}
}

// BuildAnalysisPrompt returns the messages for full_analysis.
func BuildAnalysisPrompt(text, fileName string, maxChars int) Completion {
	var b strings.Builder
	if fileName = strings.TrimSpace(fileName); fileName != "" {
		b.WriteString("Filename: ")
		b.WriteString(fileName)
		b.WriteString("\n\n")
	}
	b.WriteString("Document text:\n")
	b.WriteString(clip(text, maxChars))
	return Completion{System: fullAnalysisSystem, User: b.String()}
}

func clip(s string, max int) string {
	if max <= 0 {
		max = defaultMaxPromptChars
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "\n…(truncated)"
}
