package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
)

type Config struct {
	PDFToText string // pdftotext binary used when pdfcpu finds no text; empty disables
	MaxChars  int    // 0 = no limit
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var _ TextExtractor = (*Extractor)(nil)

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Extract picks a strategy based on file extension. Unknown extensions get a
// best-effort text decode and fail if the bytes look binary. Text files come
// back exactly as decoded; the other formats are passed through Normalize.
func (e *Extractor) Extract(ctx context.Context, fileName string, data []byte) (TextExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(fileName))
	format := constants.MapExtToFormat(ext)
	e.logger.Debug("extract.start", "file_name", fileName, "ext", ext, "format", format, "bytes", len(data))

	if len(data) == 0 {
		return TextExtractionResult{}, extractionError(fileName, "file is empty", nil)
	}

	var (
		res TextExtractionResult
		err error
		// plain text is returned as decoded, never reflowed
		raw bool
	)
	switch format {
	case constants.PDF:
		res, err = e.extractPDF(ctx, fileName, data)
	case constants.DOCX:
		res, err = extractDOCX(data)
	case constants.RTF:
		res, err = extractRTF(data)
	case constants.TXT:
		res, err = extractPlain(data)
		raw = true
	default:
		if looksBinary(data) {
			return TextExtractionResult{}, extractionError(fileName,
				fmt.Sprintf("unsupported file type %q", ext), nil)
		}
		res, err = extractPlain(data)
		raw = true
		if err == nil {
			res.Warnings = append(res.Warnings, "unknown extension; decoded as plain text")
		}
	}
	if err != nil {
		e.logger.Warn("extract.failed", "file_name", fileName, "format", format, "error", err)
		return TextExtractionResult{}, extractionError(fileName, "could not read "+string(format)+" content", err)
	}

	res.SourceType = format
	if !raw {
		res.Text = Normalize(res.Text)
	}
	if strings.TrimSpace(res.Text) == "" {
		return TextExtractionResult{}, extractionError(fileName, "no text could be extracted", nil)
	}
	if e.cfg.MaxChars > 0 && utf8.RuneCountInString(res.Text) > e.cfg.MaxChars {
		res.Text = string([]rune(res.Text)[:e.cfg.MaxChars])
		res.Truncated = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("text truncated to %d characters", e.cfg.MaxChars))
	}
	res.Duration = time.Since(start)

	e.logger.Info("extract.ok",
		"file_name", fileName,
		"format", format,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func extractionError(fileName, msg string, cause error) error {
	return common.NewAppError(common.KindExtraction, fmt.Sprintf("%s: %s", fileName, msg), cause)
}
