package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/blob"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/extract"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
)

// Authorizer answers project ownership questions.
type Authorizer interface {
	IsOwner(ctx context.Context, projectID uuid.UUID, userID string) (bool, error)
}

// StageRunner runs the AI-backed stages. *llm.Analyzer implements it.
type StageRunner interface {
	ExtractData(ctx context.Context, text, fileName string, tmpl entity.Template) (*entity.ExtractedData, error)
	Analyze(ctx context.Context, text, fileName string) (*entity.ExtractedData, error)
}

// Request is one submission as seen by the server, after transport decoding.
type Request struct {
	UserID          string
	ProjectID       uuid.UUID
	FileName        string
	Content         []byte // new upload
	SourceReference string // blob key of an earlier upload or imported record
	Stage           constants.ProcessingStage
	SourceKind      constants.SourceKind
	Template        entity.Template
}

// Dispatcher turns submissions into processed documents. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	docs        repository.DocumentRepository
	auth        Authorizer
	blobs       blob.Store
	extractor   extract.TextExtractor
	stages      StageRunner
	maxFileSize int64
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxFileSize rejects uploads larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxFileSize = n
		}
	}
}

func NewDispatcher(docs repository.DocumentRepository, auth Authorizer, blobs blob.Store, extractor extract.TextExtractor, stages StageRunner, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		docs:        docs,
		auth:        auth,
		blobs:       blobs,
		extractor:   extractor,
		stages:      stages,
		maxFileSize: constants.DefaultMaxFileSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Authorize checks that userID is authenticated and owns projectID.
func (d *Dispatcher) Authorize(ctx context.Context, userID string, projectID uuid.UUID) error {
	if strings.TrimSpace(userID) == "" {
		return common.Unauthenticated("missing or invalid credentials")
	}
	ok, err := d.auth.IsOwner(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.Forbidden("not a member of this project")
		}
		return common.NewAppError(common.KindInternal, "ownership check failed", err)
	}
	if !ok {
		return common.Forbidden("not a member of this project")
	}
	return nil
}

// Dispatch authorizes, records and processes one submission.
// When a document row exists the returned document is non-nil, even on error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*entity.Document, error) {
	if err := d.Authorize(ctx, req.UserID, req.ProjectID); err != nil {
		d.logger.Warn("dispatch.unauthorized", "project_id", req.ProjectID, "user_id", req.UserID, "error", err)
		return nil, err
	}
	if err := d.validate(&req); err != nil {
		return nil, err
	}

	data := req.Content
	key := req.SourceReference
	if key == "" {
		key = blob.NewKey(req.ProjectID, req.FileName)
		if err := d.blobs.Put(ctx, key, data); err != nil {
			return nil, common.NewAppError(common.KindInternal, "store upload", err)
		}
	} else {
		var err error
		data, err = d.blobs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.InvalidInput("source reference not found")
			}
			return nil, common.NewAppError(common.KindInternal, "load source reference", err)
		}
	}

	doc, err := d.docs.Create(ctx, entity.NewDocument{
		ProjectID:  req.ProjectID,
		FileName:   req.FileName,
		Stage:      req.Stage,
		SourceKind: req.SourceKind,
		SourceRef:  key,
		Template:   req.Template,
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	d.logger.Info("dispatch.accepted",
		"document_id", doc.ID,
		"project_id", doc.ProjectID,
		"file", doc.FileName,
		"stage", doc.Stage,
		"bytes", len(data),
	)

	processing, err := d.docs.MarkProcessing(ctx, doc.ID)
	if err != nil {
		// the row stays pending until the watchdog fails it
		d.logger.Error("dispatch.ack_failed", "document_id", doc.ID, "error", err)
		return doc, fmt.Errorf("acknowledge document: %w", err)
	}
	return d.run(ctx, processing, data)
}

// Reprocess runs a document that a retry has already moved back to processing.
func (d *Dispatcher) Reprocess(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	if doc.Status != constants.StatusProcessing {
		return doc, common.Conflict(fmt.Sprintf("document is %s, not processing", doc.Status))
	}
	data, err := d.blobs.Get(ctx, doc.SourceRef)
	if err != nil {
		cause := common.NewAppError(common.KindExtraction, "source file is no longer available", err)
		return d.fail(ctx, doc, cause)
	}
	return d.run(ctx, doc, data)
}

func (d *Dispatcher) validate(req *Request) error {
	req.FileName = strings.TrimSpace(req.FileName)
	if req.SourceKind == "" {
		req.SourceKind = constants.SourceManualUpload
	}
	hasContent := len(req.Content) > 0
	hasRef := strings.TrimSpace(req.SourceReference) != ""

	v := common.NewValidator()
	v.Field("projectId", req.ProjectID, common.Required)
	v.Field("fileName", req.FileName, common.Required, common.MaxLength(255))
	v.Field("processingStage", string(req.Stage), common.OneOf(
		string(constants.StageTextExtraction),
		string(constants.StageDataExtraction),
		string(constants.StageFullAnalysis),
	))
	v.Field("sourceKind", string(req.SourceKind), common.OneOf(
		string(constants.SourceManualUpload),
		string(constants.SourceImportedRecord),
	))
	v.Check(hasContent != hasRef, "fileContentBase64", nil, "exactly one of fileContentBase64 or sourceReference is required")
	v.Check(int64(len(req.Content)) <= d.maxFileSize, "fileContentBase64", len(req.Content),
		fmt.Sprintf("exceeds the %d byte limit", d.maxFileSize))
	if hasRef {
		v.Check(strings.HasPrefix(req.SourceReference, req.ProjectID.String()+"/"), "sourceReference",
			req.SourceReference, "does not belong to this project")
	}
	return v.Err()
}

// run executes the stage for an acknowledged document and records the outcome.
func (d *Dispatcher) run(ctx context.Context, doc *entity.Document, data []byte) (*entity.Document, error) {
	start := time.Now()
	text, extracted, err := d.execute(ctx, doc, data)
	if err != nil {
		if ctx.Err() != nil {
			err = common.NewAppError(common.KindTimeout, "request cancelled", ctx.Err())
		}
		return d.fail(ctx, doc, err)
	}

	wctx := context.WithoutCancel(ctx)
	done, err := d.docs.Complete(wctx, doc.ID, doc.ProcessingAttempts, text, extracted)
	if err != nil {
		if errors.Is(err, common.ErrStaleWrite) {
			d.logger.Warn("dispatch.stale_attempt", "document_id", doc.ID, "attempt", doc.ProcessingAttempts)
			return d.current(wctx, doc), common.Conflict("a newer attempt owns this document")
		}
		return doc, fmt.Errorf("complete document: %w", err)
	}

	attrs := []any{
		"document_id", done.ID,
		"stage", done.Stage,
		"attempt", done.ProcessingAttempts,
		"text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if extracted != nil {
		attrs = append(attrs, "data_kind", extracted.Kind)
	}
	d.logger.Info("dispatch.completed", attrs...)
	return done, nil
}

func (d *Dispatcher) execute(ctx context.Context, doc *entity.Document, data []byte) (string, *entity.ExtractedData, error) {
	res, err := d.extractor.Extract(ctx, doc.FileName, data)
	if err != nil {
		return "", nil, err
	}
	d.logger.Debug("dispatch.extract.ok",
		"document_id", doc.ID,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"warnings", len(res.Warnings),
	)
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	switch doc.Stage {
	case constants.StageDataExtraction:
		out, err := d.stages.ExtractData(ctx, res.Text, doc.FileName, doc.Template)
		return res.Text, out, err
	case constants.StageFullAnalysis:
		out, err := d.stages.Analyze(ctx, res.Text, doc.FileName)
		return res.Text, out, err
	}
	return res.Text, nil, nil
}

// fail records err on the document. The write ignores caller cancellation.
func (d *Dispatcher) fail(ctx context.Context, doc *entity.Document, cause error) (*entity.Document, error) {
	kind := common.KindOf(cause)
	if kind == common.KindNotFound || kind == common.KindConflict {
		kind = common.KindInternal
	}
	msg := cause.Error()

	wctx := context.WithoutCancel(ctx)
	failed, err := d.docs.Fail(wctx, doc.ID, doc.ProcessingAttempts, kind, msg)
	if err != nil {
		if errors.Is(err, common.ErrStaleWrite) {
			d.logger.Warn("dispatch.stale_attempt", "document_id", doc.ID, "attempt", doc.ProcessingAttempts)
			return d.current(wctx, doc), cause
		}
		d.logger.Error("dispatch.fail.persist_error", "document_id", doc.ID, "error", err, "cause", cause)
		return doc, errors.Join(cause, err)
	}
	d.logger.Warn("dispatch.failed",
		"document_id", doc.ID,
		"stage", doc.Stage,
		"attempt", doc.ProcessingAttempts,
		"error_kind", kind,
		"error", msg,
	)
	return failed, cause
}

func (d *Dispatcher) current(ctx context.Context, doc *entity.Document) *entity.Document {
	if cur, err := d.docs.GetByID(ctx, doc.ID); err == nil {
		return cur
	}
	return doc
}
