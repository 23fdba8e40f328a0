package dispatch

import (
	"context"
	"encoding/base64"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

// LocalSubmitter feeds the ingestion gate straight into a Dispatcher in the
// same process, acting as a fixed user. The batch CLI uses it.
type LocalSubmitter struct {
	dispatcher *Dispatcher
	userID     string
}

var _ ingest.Submitter = (*LocalSubmitter)(nil)

func NewLocalSubmitter(d *Dispatcher, userID string) *LocalSubmitter {
	return &LocalSubmitter{dispatcher: d, userID: userID}
}

func (s *LocalSubmitter) Submit(ctx context.Context, in ingest.SubmitRequest) (ingest.SubmitResult, error) {
	content, err := base64.StdEncoding.DecodeString(in.ContentBase64)
	if err != nil {
		return ingest.SubmitResult{}, common.InvalidInput("content is not valid base64")
	}
	if in.OnSent != nil {
		in.OnSent()
	}
	doc, err := s.dispatcher.Dispatch(ctx, Request{
		UserID:     s.userID,
		ProjectID:  in.ProjectID,
		FileName:   in.FileName,
		Content:    content,
		Stage:      in.Stage,
		SourceKind: in.SourceKind,
		Template:   in.Template,
	})
	if doc == nil {
		return ingest.SubmitResult{}, err
	}
	return resultFromDocument(doc), err
}

func resultFromDocument(doc *entity.Document) ingest.SubmitResult {
	out := ingest.SubmitResult{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Stage:      doc.Stage,
	}
	if doc.ExtractedText != nil {
		out.ExtractedText = *doc.ExtractedText
	}
	if doc.ExtractedData != nil {
		out.ExtractedData = doc.ExtractedData.Object()
		out.DataKind = doc.ExtractedData.Kind
	}
	return out
}
