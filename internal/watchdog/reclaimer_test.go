package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/testutil"
)

type recordingStore struct {
	before  time.Time
	kind    string
	message string
	err     error
	calls   int
}

func (s *recordingStore) ReclaimStuck(_ context.Context, before time.Time, kind, message string) ([]*entity.Document, error) {
	s.calls++
	s.before, s.kind, s.message = before, kind, message
	if s.err != nil {
		return nil, s.err
	}
	return []*entity.Document{{ID: uuid.New()}}, nil
}

func TestReclaimOnceUsesDeadline(t *testing.T) {
	store := &recordingStore{}
	r := NewReclaimer(store, 5*time.Minute, time.Second, testutil.Logger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	docs, err := r.ReclaimOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, now.Add(-5*time.Minute), store.before)
	assert.Equal(t, common.KindTimeout, store.kind)
	assert.Equal(t, "processing did not finish within 5m0s", store.message)
}

func TestReclaimOnceError(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	r := NewReclaimer(store, 0, 0, testutil.Logger())
	_, err := r.ReclaimOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 10*time.Minute, r.deadline)
	assert.Equal(t, time.Minute, r.interval)
}

func TestRunStopsWithContext(t *testing.T) {
	store := &recordingStore{}
	r := NewReclaimer(store, time.Minute, 10*time.Millisecond, testutil.Logger())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, store.calls, 2)
}

func TestReclaimStuckDocuments(t *testing.T) {
	db := testutil.SQLite(t)
	p := testutil.Project(t, db, "owner")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	docs := repository.NewDocumentRepository(db, testutil.Logger(), repository.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	doc, err := docs.Create(ctx, entity.NewDocument{
		ProjectID: p.ID, FileName: "slow.pdf", Stage: constants.StageFullAnalysis,
		SourceKind: constants.SourceManualUpload, SourceRef: p.ID.String() + "/slow.pdf",
	})
	require.NoError(t, err)
	_, err = docs.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	orphan, err := docs.Create(ctx, entity.NewDocument{
		ProjectID: p.ID, FileName: "orphan.pdf", Stage: constants.StageTextExtraction,
		SourceKind: constants.SourceManualUpload, SourceRef: p.ID.String() + "/orphan.pdf",
	})
	require.NoError(t, err)

	r := NewReclaimer(docs, 10*time.Minute, time.Minute, testutil.Logger())

	r.now = func() time.Time { return start.Add(5 * time.Minute) }
	got, err := r.ReclaimOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	r.now = func() time.Time { return start.Add(11 * time.Minute) }
	got, err = r.ReclaimOnce(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.Equal(t, constants.StatusError, d.Status)
		assert.Equal(t, common.KindTimeout, *d.ErrorKind)
	}

	cur, err := docs.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusError, cur.Status)
	assert.Equal(t, 0, cur.ProcessingAttempts)
}
