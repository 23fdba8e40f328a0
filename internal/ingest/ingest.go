package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// FileDescriptor is what the validator looks at.
type FileDescriptor struct {
	Name      string
	MimeType  string
	SizeBytes int64
}

// File is a candidate for submission. Read is only called for files that pass validation.
type File struct {
	FileDescriptor
	Read func() ([]byte, error)
}

// FileFromPath describes a file on disk; the mime type comes from the extension.
func FileFromPath(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		FileDescriptor: FileDescriptor{
			Name:      filepath.Base(path),
			MimeType:  constants.MimeTypeForExt(filepath.Ext(path)),
			SizeBytes: st.Size(),
		},
		Read: func() ([]byte, error) { return os.ReadFile(path) },
	}, nil
}

// FileFromBytes wraps in-memory content.
func FileFromBytes(name string, data []byte) File {
	return File{
		FileDescriptor: FileDescriptor{
			Name:      name,
			MimeType:  constants.MimeTypeForExt(filepath.Ext(name)),
			SizeBytes: int64(len(data)),
		},
		Read: func() ([]byte, error) { return data, nil },
	}
}

// SubmitRequest is one encoded file on its way to the dispatcher.
type SubmitRequest struct {
	ProjectID     uuid.UUID
	FileName      string
	ContentBase64 string
	Stage         constants.ProcessingStage
	SourceKind    constants.SourceKind
	Template      entity.Template

	// OnSent, when set, is called once the request has been handed to the
	// dispatcher and the caller is only waiting for the outcome.
	OnSent func()
}

// SubmitResult is the dispatcher's answer for one file.
type SubmitResult struct {
	DocumentID    uuid.UUID
	Status        constants.DocumentStatus
	Stage         constants.ProcessingStage
	ExtractedText string
	ExtractedData map[string]any
	DataKind      entity.DataKind
}

// Submitter delivers one file to the dispatcher. The HTTP client and the
// in-process dispatcher adapter both implement it.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}
