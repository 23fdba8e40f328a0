// Package retry re-runs documents that ended in error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// Store is the slice of the document repository the controller needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ResetForRetry(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*entity.Document, error)
}

// Processor re-enters the dispatcher for an already-reset document.
type Processor interface {
	Authorize(ctx context.Context, userID string, projectID uuid.UUID) error
	Reprocess(ctx context.Context, doc *entity.Document) (*entity.Document, error)
}

type Request struct {
	DocumentID      uuid.UUID
	UserID          string
	ExpectedVersion *int64 // optional optimistic-concurrency token
}

type Controller struct {
	store     Store
	processor Processor
	logger    *slog.Logger
}

func NewController(store Store, processor Processor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, processor: processor, logger: logger}
}

// Retry moves an errored document back to processing and runs it again with
// its stored stage, template and source. Only one of several concurrent
// retries of the same document wins; the others get a Conflict.
func (c *Controller) Retry(ctx context.Context, req Request) (*entity.Document, error) {
	doc, err := c.store.GetByID(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("document not found")
		}
		return nil, err
	}
	if err := c.processor.Authorize(ctx, req.UserID, doc.ProjectID); err != nil {
		return nil, err
	}
	if doc.Status != constants.StatusError {
		return doc, common.Conflict(fmt.Sprintf("only failed documents can be retried; document is %s", doc.Status))
	}

	reset, err := c.store.ResetForRetry(ctx, doc.ID, req.ExpectedVersion)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			c.logger.Info("retry.lost_race", "document_id", doc.ID, "error", err)
			return doc, common.NewAppError(common.KindConflict, "document changed since it was read", err)
		}
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("document not found")
		}
		return doc, err
	}
	c.logger.Info("retry.started",
		"document_id", reset.ID,
		"attempt", reset.ProcessingAttempts,
		"stage", reset.Stage,
	)
	return c.processor.Reprocess(ctx, reset)
}
