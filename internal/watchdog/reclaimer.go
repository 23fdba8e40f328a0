// Package watchdog fails documents that have been pending or processing for too long.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// Store is implemented by repository.DocumentRepository.
type Store interface {
	ReclaimStuck(ctx context.Context, before time.Time, kind, message string) ([]*entity.Document, error)
}

type Reclaimer struct {
	store    Store
	deadline time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewReclaimer(store Store, deadline, interval time.Duration, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{store: store, deadline: deadline, interval: interval, now: time.Now, logger: logger}
}

// ReclaimOnce moves every document left pending or processing past the
// deadline to error with kind TimeoutError, which makes it retryable. A
// pending row this old was never picked up by its dispatcher.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) ([]*entity.Document, error) {
	cutoff := r.now().Add(-r.deadline)
	msg := fmt.Sprintf("processing did not finish within %s", r.deadline)
	docs, err := r.store.ReclaimStuck(ctx, cutoff, common.KindTimeout, msg)
	if err != nil {
		r.logger.Error("watchdog.reclaim_failed", "error", err)
		return nil, err
	}
	for _, d := range docs {
		r.logger.Warn("watchdog.reclaimed",
			"document_id", d.ID,
			"project_id", d.ProjectID,
			"attempt", d.ProcessingAttempts,
			"never_started", d.ProcessingAttempts == 0,
		)
	}
	return docs, nil
}

// Run calls ReclaimOnce every interval until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	r.logger.Info("watchdog.start", "deadline", r.deadline, "interval", r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.ReclaimOnce(ctx); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Info("watchdog.stop")
			return
		case <-t.C:
		}
	}
}
