package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
)

// DocumentTopic carries document changes keyed by project id.
type DocumentTopic = Topic[uuid.UUID, entity.ChangeEvent]

// DocumentSubscription is a subscription on a DocumentTopic.
type DocumentSubscription = Subscription[uuid.UUID, entity.ChangeEvent]

// NewDocumentTopic returns a topic for document changes.
func NewDocumentTopic(buffer int, logger *slog.Logger) *DocumentTopic {
	return NewTopic[uuid.UUID, entity.ChangeEvent](buffer, logger)
}

// PublishChange publishes ev under its project.
func PublishChange(t *DocumentTopic, ev entity.ChangeEvent) int {
	if ev.ProjectID == uuid.Nil {
		ev.ProjectID = ev.Document.ProjectID
	}
	return t.Publish(ev.ProjectID, ev)
}

// publishingRepository announces every successful write on the topic.
// Used where the store itself cannot notify (SQLite, single process).
type publishingRepository struct {
	repository.DocumentRepository
	topic *DocumentTopic
}

// Publishing wraps repo so that committed writes are published on topic.
func Publishing(repo repository.DocumentRepository, topic *DocumentTopic) repository.DocumentRepository {
	return &publishingRepository{DocumentRepository: repo, topic: topic}
}

func (p *publishingRepository) emit(op entity.ChangeOp, d *entity.Document) {
	if d == nil {
		return
	}
	PublishChange(p.topic, entity.ChangeEvent{Op: op, ProjectID: d.ProjectID, Document: *d})
}

func (p *publishingRepository) Create(ctx context.Context, nd entity.NewDocument) (*entity.Document, error) {
	d, err := p.DocumentRepository.Create(ctx, nd)
	if err == nil {
		p.emit(entity.OpInsert, d)
	}
	return d, err
}

func (p *publishingRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	d, err := p.DocumentRepository.MarkProcessing(ctx, id)
	if err == nil {
		p.emit(entity.OpUpdate, d)
	}
	return d, err
}

func (p *publishingRepository) Complete(ctx context.Context, id uuid.UUID, attempt int, text string, data *entity.ExtractedData) (*entity.Document, error) {
	d, err := p.DocumentRepository.Complete(ctx, id, attempt, text, data)
	if err == nil {
		p.emit(entity.OpUpdate, d)
	}
	return d, err
}

func (p *publishingRepository) Fail(ctx context.Context, id uuid.UUID, attempt int, kind, message string) (*entity.Document, error) {
	d, err := p.DocumentRepository.Fail(ctx, id, attempt, kind, message)
	if err == nil {
		p.emit(entity.OpUpdate, d)
	}
	return d, err
}

func (p *publishingRepository) ResetForRetry(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*entity.Document, error) {
	d, err := p.DocumentRepository.ResetForRetry(ctx, id, expectedVersion)
	if err == nil {
		p.emit(entity.OpUpdate, d)
	}
	return d, err
}

func (p *publishingRepository) ReclaimStuck(ctx context.Context, before time.Time, kind, message string) ([]*entity.Document, error) {
	docs, err := p.DocumentRepository.ReclaimStuck(ctx, before, kind, message)
	if err == nil {
		for _, d := range docs {
			p.emit(entity.OpUpdate, d)
		}
	}
	return docs, err
}

func (p *publishingRepository) Delete(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	d, err := p.DocumentRepository.Delete(ctx, id)
	if err == nil {
		p.emit(entity.OpDelete, d)
	}
	return d, err
}
