package entity

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
)

// Document is one submitted file or imported record and its processing outcome.
type Document struct {
	ID                 uuid.UUID                 `json:"id"`
	ProjectID          uuid.UUID                 `json:"project_id"`
	FileName           string                    `json:"file_name"`
	Stage              constants.ProcessingStage `json:"processing_stage"`
	SourceKind         constants.SourceKind      `json:"source_kind"`
	SourceRef          string                    `json:"source_ref"`
	Template           Template                  `json:"extraction_template,omitempty"`
	Status             constants.DocumentStatus  `json:"status"`
	ExtractedText      *string                   `json:"extracted_text,omitempty"`
	ExtractedData      *ExtractedData            `json:"extracted_data,omitempty"`
	ErrorKind          *string                   `json:"error_kind,omitempty"`
	ErrorMessage       *string                   `json:"error_message,omitempty"`
	ProcessingAttempts int                       `json:"processing_attempts"`
	Version            int64                     `json:"version"`
	UploadedAt         time.Time                 `json:"uploaded_at"`
	ProcessedAt        *time.Time                `json:"processed_at,omitempty"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// NewDocument carries what the dispatcher knows when a submission arrives.
type NewDocument struct {
	ProjectID  uuid.UUID
	FileName   string
	Stage      constants.ProcessingStage
	SourceKind constants.SourceKind
	SourceRef  string
	Template   Template
}

// Template maps output field names to a type hint or a short description.
type Template map[string]string

// Fields returns the field names in a stable order.
func (t Template) Fields() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultResearchTemplate is used for data_extraction when the caller sends none.
var DefaultResearchTemplate = Template{
	"title":            "string",
	"authors":          "list",
	"publication_year": "integer",
	"study_design":     "type of study, e.g. randomized controlled trial, cohort, qualitative",
	"sample_size":      "integer",
	"population":       "who or what was studied",
	"intervention":     "intervention or exposure, if any",
	"primary_outcome":  "main outcome measured",
	"key_findings":     "one or two sentence summary of the results",
}

// AggregateCounts are per-status document counts for one project.
type AggregateCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

func (c AggregateCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Error
}

// Add adjusts the bucket for status by delta.
func (c *AggregateCounts) Add(status constants.DocumentStatus, delta int) {
	switch status {
	case constants.StatusPending:
		c.Pending += delta
	case constants.StatusProcessing:
		c.Processing += delta
	case constants.StatusCompleted:
		c.Completed += delta
	case constants.StatusError:
		c.Error += delta
	}
}

func (c AggregateCounts) Get(status constants.DocumentStatus) int {
	switch status {
	case constants.StatusPending:
		return c.Pending
	case constants.StatusProcessing:
		return c.Processing
	case constants.StatusCompleted:
		return c.Completed
	case constants.StatusError:
		return c.Error
	}
	return 0
}

// ChangeOp is the kind of row change carried by the change feed.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is one row change for one project. For deletes Document holds the last known row.
type ChangeEvent struct {
	Op        ChangeOp  `json:"op"`
	ProjectID uuid.UUID `json:"project_id"`
	Document  Document  `json:"document"`
}
