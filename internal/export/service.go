// Package export renders a project's documents as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

const (
	documentsSheet = "Documents"
	summarySheet   = "Summary"
	maxCellText    = 32_000 // excelize rejects cells over 32767 characters
)

// Lister is implemented by repository.DocumentRepository.
type Lister interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*entity.Document, error)
}

// Service produces XLSX bytes for exports.
type Service struct {
	docs   Lister
	now    func() time.Time
	logger *slog.Logger
}

func NewService(docs Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, now: time.Now, logger: logger}
}

var baseHeaders = []string{
	"File Name",
	"Stage",
	"Source",
	"Status",
	"Attempts",
	"Uploaded At",
	"Processed At",
	"Error Kind",
	"Error Message",
	"Data Kind",
	"Extracted Text (excerpt)",
}

// ExportProjectXLSX writes one row per document, one column per structured
// field seen across the project, and a per-status summary sheet.
func (s *Service) ExportProjectXLSX(ctx context.Context, projectID uuid.UUID) ([]byte, error) {
	start := time.Now()

	docs, err := s.docs.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	fields := structuredFields(docs)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(documentsSheet)
	f.SetActiveSheet(idx)

	headers := append(append([]string{}, baseHeaders...), fields...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(documentsSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(documentsSheet, "A1", last, style)
	}

	var counts entity.AggregateCounts
	for i, d := range docs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(documentsSheet, cell, v)
		}
		counts.Add(d.Status, 1)

		write(1, d.FileName)
		write(2, string(d.Stage))
		write(3, string(d.SourceKind))
		write(4, string(d.Status))
		write(5, d.ProcessingAttempts)
		write(6, d.UploadedAt.UTC().Format(time.RFC3339))
		if d.ProcessedAt != nil {
			write(7, d.ProcessedAt.UTC().Format(time.RFC3339))
		}
		if d.ErrorKind != nil {
			write(8, *d.ErrorKind)
		}
		if d.ErrorMessage != nil {
			write(9, truncate(*d.ErrorMessage, 500))
		}
		if d.ExtractedData != nil {
			write(10, string(d.ExtractedData.Kind))
		}
		if d.ExtractedText != nil {
			write(11, truncate(*d.ExtractedText, 300))
		}
		if d.ExtractedData != nil {
			obj := d.ExtractedData.Object()
			for j, name := range fields {
				if v, ok := obj[name]; ok {
					write(len(baseHeaders)+j+1, cellValue(v))
				}
			}
		}
	}

	_ = f.SetColWidth(documentsSheet, "A", "A", 36)
	_ = f.SetColWidth(documentsSheet, "B", "E", 16)
	_ = f.SetColWidth(documentsSheet, "F", "G", 22)
	_ = f.SetColWidth(documentsSheet, "I", "I", 48)
	_ = f.SetColWidth(documentsSheet, "K", "K", 60)

	s.writeSummary(f, projectID, counts)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"project_id", projectID.String(),
		"rows", len(docs),
		"fields", len(fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeSummary(f *excelize.File, projectID uuid.UUID, counts entity.AggregateCounts) {
	rows := [][]any{
		{"Project", projectID.String()},
		{"Exported At", s.now().UTC().Format(time.RFC3339)},
		{},
		{"Status", "Documents"},
	}
	for _, st := range constants.AllStatuses {
		rows = append(rows, []any{string(st), counts.Get(st)})
	}
	rows = append(rows, []any{"total", counts.Total()})
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(summarySheet, cell, &r)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)
}

// structuredFields returns the sorted union of structured field names.
func structuredFields(docs []*entity.Document) []string {
	seen := map[string]struct{}{}
	for _, d := range docs {
		if d.ExtractedData == nil || d.ExtractedData.Kind != entity.DataStructured {
			continue
		}
		for k := range d.ExtractedData.Fields {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cellValue(v any) any {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			parts = append(parts, fmt.Sprint(it))
		}
		return truncate(strings.Join(parts, "; "), maxCellText)
	case string:
		return truncate(t, maxCellText)
	case nil:
		return ""
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
