package constants

import (
	"strings"
	"time"
)

// DocumentStatus is the canonical lifecycle status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []DocumentStatus{StatusPending, StatusProcessing, StatusCompleted, StatusError}

// Terminal reports whether no further automatic transition will happen.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ProcessingStage selects how deep the dispatcher goes after text extraction.
type ProcessingStage string

const (
	StageTextExtraction ProcessingStage = "text_extraction"
	StageDataExtraction ProcessingStage = "data_extraction"
	StageFullAnalysis   ProcessingStage = "full_analysis"
)

// ParseStage accepts the wire names plus a few loose spellings ("text", "data", "analysis").
func ParseStage(s string) (ProcessingStage, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text_extraction", "text":
		return StageTextExtraction, true
	case "data_extraction", "data":
		return StageDataExtraction, true
	case "full_analysis", "analysis", "full":
		return StageFullAnalysis, true
	}
	return "", false
}

// UsesAI reports whether the stage calls the language model after extraction.
func (s ProcessingStage) UsesAI() bool {
	return s == StageDataExtraction || s == StageFullAnalysis
}

// EstimatedDuration is the rough wall time shown to users while a stage runs.
func EstimatedDuration(s ProcessingStage) time.Duration {
	switch s {
	case StageDataExtraction:
		return 45 * time.Second
	case StageFullAnalysis:
		return 90 * time.Second
	default:
		return 10 * time.Second
	}
}

// SourceKind records where a document came from.
type SourceKind string

const (
	SourceManualUpload   SourceKind = "manual_upload"
	SourceImportedRecord SourceKind = "imported_record"
)

func ParseSourceKind(s string) (SourceKind, bool) {
	switch SourceKind(strings.TrimSpace(s)) {
	case "", SourceManualUpload:
		return SourceManualUpload, true
	case SourceImportedRecord:
		return SourceImportedRecord, true
	}
	return "", false
}
