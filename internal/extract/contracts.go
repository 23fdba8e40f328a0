package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/research-ingest/constants"
)

// TextExtractor turns submitted bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (TextExtractionResult, error)
}

type TextExtractionResult struct {
	Text       string
	Pages      int
	SourceType constants.Format
	Method     string // "pdfcpu" | "pdftotext" | "docx-xml" | "rtf-strip" | "plain"
	Duration   time.Duration
	Warnings   []string
	Truncated  bool
}
