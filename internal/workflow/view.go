// Package workflow keeps a live, read-only mirror of one project's documents.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/feed"
)

// Source seeds the view.
type Source interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*entity.Document, error)
}

// Update is passed to OnChange callbacks after the mirror changed.
type Update struct {
	Event  *entity.ChangeEvent // nil for a resync
	Resync bool
	Counts entity.AggregateCounts
}

var ErrClosed = errors.New("workflow view closed")

// View mirrors a project's documents from the change feed and keeps
// per-status counts current without re-querying the store.
type View struct {
	projectID uuid.UUID
	topic     *feed.DocumentTopic
	source    Source
	logger    *slog.Logger

	mu       sync.RWMutex
	docs     map[uuid.UUID]entity.Document
	deleted  map[uuid.UUID]struct{}
	counts   entity.AggregateCounts
	onChange []func(Update)
	sub      *feed.DocumentSubscription
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

func NewView(projectID uuid.UUID, topic *feed.DocumentTopic, source Source, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		projectID: projectID,
		topic:     topic,
		source:    source,
		logger:    logger.With("project_id", projectID),
		docs:      make(map[uuid.UUID]entity.Document),
		deleted:   make(map[uuid.UUID]struct{}),
	}
}

// Start subscribes, seeds from the store and then follows the feed until
// ctx is done or Close is called. Subscribing before seeding means no change
// committed after the seed query can be missed.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.sub != nil {
		v.mu.Unlock()
		return errors.New("workflow view already started")
	}
	v.sub = v.topic.Subscribe(v.projectID)
	v.mu.Unlock()

	if err := v.seed(ctx); err != nil {
		v.mu.Lock()
		v.sub.Close()
		v.sub = nil
		v.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	v.cancel = cancel
	v.done = make(chan struct{})
	v.mu.Unlock()

	go v.loop(runCtx)
	return nil
}

func (v *View) loop(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-v.sub.Events():
			if !ok {
				return
			}
			if v.apply(ev) {
				v.notify(Update{Event: &ev, Counts: v.Counts()})
			}
		case <-v.sub.Lagged():
			v.logger.Warn("workflow.lagged", "dropped", v.sub.Dropped())
			if err := v.seed(ctx); err != nil {
				v.logger.Error("workflow.resync_failed", "error", err)
			}
		}
	}
}

// seed replaces the mirror with the store's current rows.
func (v *View) seed(ctx context.Context) error {
	rows, err := v.source.ListByProject(ctx, v.projectID)
	if err != nil {
		return fmt.Errorf("seed workflow view: %w", err)
	}
	v.mu.Lock()
	prev := v.docs
	v.docs = make(map[uuid.UUID]entity.Document, len(rows))
	v.counts = entity.AggregateCounts{}
	for _, d := range rows {
		doc := *d
		// a buffered event may already have moved this row further
		if p, ok := prev[doc.ID]; ok && p.Version > doc.Version {
			doc = p
		}
		v.docs[doc.ID] = doc
		v.counts.Add(doc.Status, 1)
	}
	counts := v.counts
	v.mu.Unlock()

	v.logger.Debug("workflow.seeded", "documents", len(rows), "total", counts.Total())
	v.notify(Update{Resync: true, Counts: counts})
	return nil
}

// apply folds one change into the mirror. It reports whether anything changed.
func (v *View) apply(ev entity.ChangeEvent) bool {
	id := ev.Document.ID
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, gone := v.deleted[id]; gone {
		return false
	}
	cur, exists := v.docs[id]

	if ev.Op == entity.OpDelete {
		if exists {
			v.counts.Add(cur.Status, -1)
			delete(v.docs, id)
		}
		v.deleted[id] = struct{}{}
		return exists
	}

	if exists && ev.Document.Version <= cur.Version {
		return false
	}
	if exists {
		v.counts.Add(cur.Status, -1)
	}
	v.docs[id] = ev.Document
	v.counts.Add(ev.Document.Status, 1)
	return true
}

func (v *View) notify(u Update) {
	v.mu.RLock()
	fns := slices.Clone(v.onChange)
	v.mu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

// OnChange registers fn to run after every applied change and resync.
// Callbacks run on the view's goroutine and must not block for long.
func (v *View) OnChange(fn func(Update)) {
	v.mu.Lock()
	v.onChange = append(v.onChange, fn)
	v.mu.Unlock()
}

func (v *View) Counts() entity.AggregateCounts {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.counts
}

// Documents returns the mirrored documents, newest upload first.
func (v *View) Documents() []entity.Document {
	v.mu.RLock()
	out := make([]entity.Document, 0, len(v.docs))
	for _, d := range v.docs {
		out = append(out, d)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (v *View) Get(id uuid.UUID) (entity.Document, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.docs[id]
	return d, ok
}

// CanRetry reports whether the document is currently in error.
func (v *View) CanRetry(id uuid.UUID) bool {
	d, ok := v.Get(id)
	return ok && d.Status == constants.StatusError
}

// Close stops following the feed and releases the subscription.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	cancel, done, sub := v.cancel, v.done, v.sub
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if done != nil {
		<-done
	}
}

// Resync re-seeds the mirror from the source. Remote followers call it when
// the server reports that events were dropped.
func (v *View) Resync(ctx context.Context) error {
	v.mu.RLock()
	closed := v.closed
	v.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return v.seed(ctx)
}
