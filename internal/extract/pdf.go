package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func (e *Extractor) extractPDF(ctx context.Context, fileName string, data []byte) (TextExtractionResult, error) {
	text, pages, perr := pdfcpuText(data)
	if perr == nil && strings.TrimSpace(text) != "" {
		return TextExtractionResult{Text: text, Pages: pages, Method: "pdfcpu"}, nil
	}
	if e.cfg.PDFToText == "" {
		if perr != nil {
			return TextExtractionResult{}, perr
		}
		return TextExtractionResult{}, fmt.Errorf("no text layer found (scanned PDF?)")
	}

	e.logger.Info("extract.pdf.fallback", "file_name", fileName, "reason", errString(perr, "empty text layer"))
	text, pages, warnings, err := e.pdfToText(ctx, data)
	if err != nil {
		return TextExtractionResult{}, err
	}
	if perr != nil {
		warnings = append(warnings, "pdfcpu: "+perr.Error())
	}
	return TextExtractionResult{Text: text, Pages: pages, Method: "pdftotext", Warnings: warnings}, nil
}

func pdfcpuText(data []byte) (text string, pages int, err error) {
	defer func() {
		// pdfcpu panics on some malformed content streams
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return "", 0, fmt.Errorf("pdfcpu read: %w", err)
	}

	var b strings.Builder
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil || len(content) == 0 {
			continue
		}
		pageText := textFromContentStream(content)
		if pageText == "" || !mostlyPrintable(pageText) {
			// glyph-id strings from CID fonts decode to noise; leave them to pdftotext
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), ctx.PageCount, nil
}

func (e *Extractor) pdfToText(ctx context.Context, data []byte) (string, int, []string, error) {
	tmp, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return "", 0, nil, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", 0, nil, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, nil, err
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.PDFToText, e.logger, "-layout", "-enc", "UTF-8", "-eol", "unix", tmp.Name(), "-")
	if err != nil {
		return "", 0, []string{string(errb)}, fmt.Errorf("pdftotext: %w", err)
	}
	text := string(out)
	// form feed separates pages
	pages := 1 + strings.Count(strings.TrimRight(text, "\f"), "\f")
	return text, pages, nil, nil
}

func errString(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
