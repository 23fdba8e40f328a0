package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// Analyzer runs the AI-backed stages on extracted text.
type Analyzer struct {
	provider Provider
	maxChars int
	logger   *slog.Logger
}

// NewAnalyzer builds an Analyzer. maxChars caps how much document text goes into a prompt.
func NewAnalyzer(provider Provider, maxChars int, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChars <= 0 {
		maxChars = defaultMaxPromptChars
	}
	return &Analyzer{provider: provider, maxChars: maxChars, logger: logger}
}

// ExtractData asks the model for the template's fields.
// A provider failure is an AIProviderError. A response that cannot be read
// against the template is not an error: the raw text comes back as raw_unparsed.
func (a *Analyzer) ExtractData(ctx context.Context, text, fileName string, tmpl entity.Template) (*entity.ExtractedData, error) {
	if len(tmpl) == 0 {
		tmpl = entity.DefaultResearchTemplate
	}
	start := time.Now()
	schema := BuildTemplateJSONSchema(tmpl)
	prompt := BuildDataExtractionPrompt(text, fileName, tmpl, mustJSON(schema), a.maxChars)

	a.logger.Info("llm.extract.start", "file", fileName, "text_len", len(text), "fields", len(tmpl))

	raw, err := a.provider.Complete(ctx, prompt)
	if err != nil {
		a.logger.Error("llm.extract.provider_error", "file", fileName, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.NewAppError(common.KindAIProvider, "data extraction request failed", err)
	}

	data, note := ParseStructured(raw, tmpl, schema, a.logger)
	if data.Kind == entity.DataRawUnparsed {
		a.logger.Warn("llm.extract.parse_failed", "file", fileName, "note", note,
			"raw_bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())
		return data, nil
	}
	a.logger.Info("llm.extract.ok", "file", fileName, "fields", len(data.Fields),
		"elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// Analyze produces a narrative appraisal of the document.
func (a *Analyzer) Analyze(ctx context.Context, text, fileName string) (*entity.ExtractedData, error) {
	start := time.Now()
	a.logger.Info("llm.analyze.start", "file", fileName, "text_len", len(text))

	out, err := a.provider.Complete(ctx, BuildAnalysisPrompt(text, fileName, a.maxChars))
	if err != nil {
		a.logger.Error("llm.analyze.provider_error", "file", fileName, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.NewAppError(common.KindAIProvider, "analysis request failed", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, common.NewAppError(common.KindAIProvider, "analysis response was empty", nil)
	}
	a.logger.Info("llm.analyze.ok", "file", fileName, "chars", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return entity.Narrative(out), nil
}

// ParseStructured turns a model response into structured data, or raw_unparsed
// with a note describing why it could not be read. It never fails.
func ParseStructured(raw string, tmpl entity.Template, schema map[string]any, logger *slog.Logger) (*entity.ExtractedData, string) {
	fields, _, err := CoerceToTemplate(raw, tmpl, logger)
	if err != nil {
		note := fmt.Sprintf("%s: %v", common.KindParse, err)
		return entity.RawUnparsed(raw, note), note
	}
	b, err := json.Marshal(fields)
	if err != nil {
		note := fmt.Sprintf("%s: %v", common.KindParse, err)
		return entity.RawUnparsed(raw, note), note
	}
	if err := ValidateJSONAgainstSchema(schema, b); err != nil {
		note := fmt.Sprintf("%s: %v", common.KindParse, err)
		return entity.RawUnparsed(raw, note), note
	}
	return entity.Structured(fields), ""
}
