// Package api holds the JSON wire types shared by the HTTP server and client.
package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// ExtractRequest is the body of POST /v1/extract.
type ExtractRequest struct {
	ProjectID          string            `json:"projectId"`
	FileName           string            `json:"fileName"`
	FileContentBase64  string            `json:"fileContentBase64,omitempty"`
	SourceReference    string            `json:"sourceReference,omitempty"`
	ProcessingStage    string            `json:"processingStage"`
	SourceKind         string            `json:"sourceKind,omitempty"`
	ExtractionTemplate map[string]string `json:"extractionTemplate,omitempty"`
	Retry              bool              `json:"retry,omitempty"`
	DocumentID         string            `json:"documentId,omitempty"`
	ExpectedVersion    *int64            `json:"expectedVersion,omitempty"`
}

type ExtractResult struct {
	ExtractedText     string         `json:"extractedText"`
	ExtractedData     map[string]any `json:"extractedData,omitempty"`
	ExtractedDataKind string         `json:"extractedDataKind,omitempty"`
}

// ExtractResponse is returned for both success and failure.
type ExtractResponse struct {
	Success         bool           `json:"success"`
	Result          *ExtractResult `json:"result,omitempty"`
	DocumentID      string         `json:"documentId,omitempty"`
	ProcessingStage string         `json:"processingStage,omitempty"`
	Status          string         `json:"status,omitempty"`
	Version         int64          `json:"version,omitempty"`
	Timestamp       string         `json:"timestamp"`
	Error           *ErrorBody     `json:"error,omitempty"`
}

// ErrorBody carries a status category, the error kind and a readable reason.
type ErrorBody struct {
	Category string `json:"category"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// ErrorResponse is the body of every non-extract error.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type RetryRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// Document is the wire form of a document row.
type Document struct {
	ID                 string            `json:"id"`
	ProjectID          string            `json:"projectId"`
	FileName           string            `json:"fileName"`
	ProcessingStage    string            `json:"processingStage"`
	SourceKind         string            `json:"sourceKind"`
	SourceReference    string            `json:"sourceReference,omitempty"`
	ExtractionTemplate map[string]string `json:"extractionTemplate,omitempty"`
	Status             string            `json:"status"`
	ExtractedText      *string           `json:"extractedText,omitempty"`
	ExtractedData      map[string]any    `json:"extractedData,omitempty"`
	ExtractedDataKind  string            `json:"extractedDataKind,omitempty"`
	ErrorKind          string            `json:"errorKind,omitempty"`
	ErrorMessage       string            `json:"errorMessage,omitempty"`
	ProcessingAttempts int               `json:"processingAttempts"`
	Version            int64             `json:"version"`
	UploadedAt         string            `json:"uploadedAt"`
	ProcessedAt        string            `json:"processedAt,omitempty"`
	UpdatedAt          string            `json:"updatedAt"`
}

type DocumentList struct {
	Documents []Document `json:"documents"`
}

type CountsResponse struct {
	ProjectID string                 `json:"projectId"`
	Counts    entity.AggregateCounts `json:"counts"`
	Total     int                    `json:"total"`
}

// SSE event names on /v1/projects/{id}/events.
const (
	EventReady  = "ready"  // subscription is live; seed now
	EventChange = "change" // one document changed
	EventResync = "resync" // events were dropped; re-seed
)

// Event is one change-feed message on the SSE stream.
type Event struct {
	Op       string   `json:"op"`
	Document Document `json:"document"`
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func FromProject(p *entity.Project) Project {
	return Project{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: strOrEmpty(p.Description),
		OwnerID:     p.OwnerID,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

func FromDocument(d *entity.Document) Document {
	out := Document{
		ID:                 d.ID.String(),
		ProjectID:          d.ProjectID.String(),
		FileName:           d.FileName,
		ProcessingStage:    string(d.Stage),
		SourceKind:         string(d.SourceKind),
		SourceReference:    d.SourceRef,
		ExtractionTemplate: d.Template,
		Status:             string(d.Status),
		ExtractedText:      d.ExtractedText,
		ErrorKind:          strOrEmpty(d.ErrorKind),
		ErrorMessage:       strOrEmpty(d.ErrorMessage),
		ProcessingAttempts: d.ProcessingAttempts,
		Version:            d.Version,
		UploadedAt:         formatTime(d.UploadedAt),
		UpdatedAt:          formatTime(d.UpdatedAt),
	}
	if d.ExtractedData != nil {
		out.ExtractedData = d.ExtractedData.Object()
		out.ExtractedDataKind = string(d.ExtractedData.Kind)
	}
	if d.ProcessedAt != nil {
		out.ProcessedAt = formatTime(*d.ProcessedAt)
	}
	return out
}

// ToEntity converts the wire form back; malformed ids become uuid.Nil.
func (d Document) ToEntity() *entity.Document {
	id, _ := uuid.Parse(d.ID)
	pid, _ := uuid.Parse(d.ProjectID)
	out := &entity.Document{
		ID:                 id,
		ProjectID:          pid,
		FileName:           d.FileName,
		Stage:              constants.ProcessingStage(d.ProcessingStage),
		SourceKind:         constants.SourceKind(d.SourceKind),
		SourceRef:          d.SourceReference,
		Template:           d.ExtractionTemplate,
		Status:             constants.DocumentStatus(d.Status),
		ExtractedText:      d.ExtractedText,
		ProcessingAttempts: d.ProcessingAttempts,
		Version:            d.Version,
		UploadedAt:         parseTime(d.UploadedAt),
		UpdatedAt:          parseTime(d.UpdatedAt),
	}
	if d.ExtractedDataKind != "" {
		out.ExtractedData = dataFromObject(entity.DataKind(d.ExtractedDataKind), d.ExtractedData)
	}
	if d.ErrorKind != "" {
		k := d.ErrorKind
		out.ErrorKind = &k
	}
	if d.ErrorMessage != "" {
		m := d.ErrorMessage
		out.ErrorMessage = &m
	}
	if d.ProcessedAt != "" {
		t := parseTime(d.ProcessedAt)
		out.ProcessedAt = &t
	}
	return out
}

func dataFromObject(kind entity.DataKind, obj map[string]any) *entity.ExtractedData {
	str := func(k string) string {
		s, _ := obj[k].(string)
		return s
	}
	switch kind {
	case entity.DataRawUnparsed:
		return entity.RawUnparsed(str("raw_response"), str("parse_error"))
	case entity.DataNarrative:
		return entity.Narrative(str("analysis"))
	}
	return entity.Structured(obj)
}

// ResultFromDocument builds the success payload of an extract response.
func ResultFromDocument(d *entity.Document) *ExtractResult {
	r := &ExtractResult{ExtractedText: strOrEmpty(d.ExtractedText)}
	if d.ExtractedData != nil {
		r.ExtractedData = d.ExtractedData.Object()
		r.ExtractedDataKind = string(d.ExtractedData.Kind)
	}
	return r
}
