package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
)

// DocumentReader is the read side the listener reloads rows from.
type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}

// PGListener bridges Postgres NOTIFY on repository.NotifyChannel into a DocumentTopic,
// so every replica's observers see writes made by any replica.
type PGListener struct {
	pool           *pgxpool.Pool
	docs           DocumentReader
	topic          *DocumentTopic
	reconnectDelay time.Duration
	logger         *slog.Logger
}

func NewPGListener(pool *pgxpool.Pool, docs DocumentReader, topic *DocumentTopic, logger *slog.Logger) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{
		pool:           pool,
		docs:           docs,
		topic:          topic,
		reconnectDelay: 2 * time.Second,
		logger:         logger,
	}
}

// Run listens until ctx is cancelled, reconnecting after connection failures.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("feed.pglisten.disconnected", "error", err, "retry_in", l.reconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{repository.NotifyChannel}.Sanitize()); err != nil {
		return err
	}
	l.logger.Info("feed.pglisten.started", "channel", repository.NotifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *PGListener) handle(ctx context.Context, payload string) {
	op, projectID, documentID, err := repository.DecodeChangeNotice(payload)
	if err != nil {
		l.logger.Warn("feed.pglisten.bad_payload", "error", err)
		return
	}
	ev := entity.ChangeEvent{Op: op, ProjectID: projectID}
	if op == entity.OpDelete {
		ev.Document = entity.Document{ID: documentID, ProjectID: projectID}
	} else {
		doc, err := l.docs.GetByID(ctx, documentID)
		if errors.Is(err, common.ErrNotFound) {
			// deleted before we got here; the delete notice follows
			return
		}
		if err != nil {
			l.logger.Error("feed.pglisten.reload_failed", "document_id", documentID, "error", err)
			return
		}
		ev.Document = *doc
	}
	PublishChange(l.topic, ev)
}
