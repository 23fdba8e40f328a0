package dispatch

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

func ingestRequest(projectID uuid.UUID, content string, onSent func()) ingest.SubmitRequest {
	return ingest.SubmitRequest{
		ProjectID:     projectID,
		FileName:      "notes.txt",
		ContentBase64: content,
		Stage:         constants.StageDataExtraction,
		OnSent:        onSent,
	}
}
