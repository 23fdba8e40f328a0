package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one discovered file waiting for submission.
type Job struct {
	Path        string
	SubmittedAt time.Time
}

// Queue submits discovered files through the gate with a fixed worker pool,
// one single-file batch per job.
type Queue struct {
	gate    *Gate
	batch   Batch // shared project, stage and template; Files is ignored
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(Job, FileOutcome)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnDone registers a callback for every finished job. It runs on a worker goroutine.
func WithOnDone(fn func(Job, FileOutcome)) QueueOption {
	return func(q *Queue) {
		q.onDone = fn
	}
}

func NewQueue(gate *Gate, batch Batch, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		gate:    gate,
		batch:   batch,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("ingest.queue.worker_started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Debug("ingest.queue.worker_stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) process(workerID int, job Job) {
	f, err := FileFromPath(job.Path)
	if err != nil {
		q.logger.Warn("ingest.queue.stat_failed", "worker_id", workerID, "path", job.Path, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	b := q.batch
	b.Files = []File{f}
	res := q.gate.SubmitBatch(ctx, b, nil)
	if len(res.Files) == 0 {
		return
	}
	out := res.Files[0]
	if out.Error != "" {
		q.logger.Error("ingest.queue.failed", "worker_id", workerID, "path", job.Path,
			"error_kind", out.ErrorKind, "error", out.Error)
	} else {
		q.logger.Info("ingest.queue.done", "worker_id", workerID, "path", job.Path,
			"document_id", out.DocumentID, "status", out.Status)
	}
	if q.onDone != nil {
		q.onDone(job, out)
	}
}

// Enqueue blocks when the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	q.logger.Warn("ingest.queue.full", "path", job.Path)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake and waits for in-flight jobs or ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("ingest.queue.shutdown_interrupted")
	case <-done:
		q.logger.Info("ingest.queue.drained")
	}
}
