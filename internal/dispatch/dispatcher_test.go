package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/blob"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/extract"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/testutil"
)

type fakeExtractor struct {
	err   error
	block bool // wait for ctx
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, fileName string, data []byte) (extract.TextExtractionResult, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return extract.TextExtractionResult{}, ctx.Err()
	}
	if f.err != nil {
		return extract.TextExtractionResult{}, f.err
	}
	return extract.TextExtractionResult{Text: "extracted: " + string(data), Method: "plain"}, nil
}

type fakeStages struct {
	data     *entity.ExtractedData
	err      error
	during   func(ctx context.Context) // runs inside the stage
	lastTmpl entity.Template
}

func (f *fakeStages) ExtractData(ctx context.Context, _ string, _ string, tmpl entity.Template) (*entity.ExtractedData, error) {
	f.lastTmpl = tmpl
	if f.during != nil {
		f.during(ctx)
	}
	return f.data, f.err
}

func (f *fakeStages) Analyze(ctx context.Context, _ string, _ string) (*entity.ExtractedData, error) {
	if f.during != nil {
		f.during(ctx)
	}
	return f.data, f.err
}

type harness struct {
	d       *Dispatcher
	docs    repository.DocumentRepository
	blobs   *blob.FSStore
	ext     *fakeExtractor
	stages  *fakeStages
	project *entity.Project
}

const owner = "user-1"

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SQLite(t)
	p := testutil.Project(t, db, owner)
	blobs, err := blob.NewFSStore(t.TempDir(), testutil.Logger())
	require.NoError(t, err)
	h := &harness{
		docs:    repository.NewDocumentRepository(db, testutil.Logger()),
		blobs:   blobs,
		ext:     &fakeExtractor{},
		stages:  &fakeStages{},
		project: p,
	}
	h.d = NewDispatcher(h.docs, repository.NewProjectRepository(db, testutil.Logger()), blobs, h.ext, h.stages,
		testutil.Logger(), WithMaxFileSize(1<<10))
	return h
}

func (h *harness) request(stage constants.ProcessingStage) Request {
	return Request{
		UserID:    owner,
		ProjectID: h.project.ID,
		FileName:  "trial.txt",
		Content:   []byte("120 adults were randomised"),
		Stage:     stage,
	}
}

func TestDispatchStages(t *testing.T) {
	tests := []struct {
		name     string
		stage    constants.ProcessingStage
		data     *entity.ExtractedData
		wantKind entity.DataKind
	}{
		{name: "text only", stage: constants.StageTextExtraction},
		{name: "structured data", stage: constants.StageDataExtraction,
			data: entity.Structured(map[string]any{"sample_size": float64(120)}), wantKind: entity.DataStructured},
		{name: "unparsed model output", stage: constants.StageDataExtraction,
			data: entity.RawUnparsed("not json", "ParseError: no JSON object"), wantKind: entity.DataRawUnparsed},
		{name: "analysis", stage: constants.StageFullAnalysis,
			data: entity.Narrative("Methodology: RCT"), wantKind: entity.DataNarrative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.stages.data = tt.data

			doc, err := h.d.Dispatch(context.Background(), h.request(tt.stage))
			require.NoError(t, err)
			assert.Equal(t, constants.StatusCompleted, doc.Status)
			assert.Equal(t, tt.stage, doc.Stage)
			assert.Equal(t, 1, doc.ProcessingAttempts)
			require.NotNil(t, doc.ExtractedText)
			assert.Equal(t, "extracted: 120 adults were randomised", *doc.ExtractedText)
			if tt.wantKind == "" {
				assert.Nil(t, doc.ExtractedData)
			} else {
				require.NotNil(t, doc.ExtractedData)
				assert.Equal(t, tt.wantKind, doc.ExtractedData.Kind)
			}

			// the upload is kept for retries
			stored, err := h.blobs.Get(context.Background(), doc.SourceRef)
			require.NoError(t, err)
			assert.Equal(t, "120 adults were randomised", string(stored))
		})
	}
}

func TestDispatchPassesTemplate(t *testing.T) {
	h := newHarness(t)
	h.stages.data = entity.Structured(map[string]any{})
	req := h.request(constants.StageDataExtraction)
	req.Template = entity.Template{"country": "string"}

	doc, err := h.d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, entity.Template{"country": "string"}, h.stages.lastTmpl)
	assert.Equal(t, entity.Template{"country": "string"}, doc.Template)
}

func TestDispatchRecordsFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind string
	}{
		{
			name: "extraction",
			setup: func(h *harness) {
				h.ext.err = common.NewAppError(common.KindExtraction, "trial.txt: no text could be extracted", nil)
			},
			wantKind: common.KindExtraction,
		},
		{
			name: "provider",
			setup: func(h *harness) {
				h.stages.err = common.NewAppError(common.KindAIProvider, "provider status 503", nil)
			},
			wantKind: common.KindAIProvider,
		},
		{
			name:     "unexpected",
			setup:    func(h *harness) { h.stages.err = errors.New("boom") },
			wantKind: common.KindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			doc, err := h.d.Dispatch(context.Background(), h.request(constants.StageDataExtraction))
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, common.KindOf(err))
			require.NotNil(t, doc)
			assert.Equal(t, constants.StatusError, doc.Status)
			require.NotNil(t, doc.ErrorKind)
			assert.Equal(t, tt.wantKind, *doc.ErrorKind)
			require.NotNil(t, doc.ErrorMessage)
			assert.NotEmpty(t, *doc.ErrorMessage)
			assert.Nil(t, doc.ExtractedText)
		})
	}
}

func TestDispatchAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.request(constants.StageTextExtraction)
	req.UserID = ""
	doc, err := h.d.Dispatch(ctx, req)
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	req = h.request(constants.StageTextExtraction)
	req.UserID = "intruder"
	_, err = h.d.Dispatch(ctx, req)
	assert.ErrorIs(t, err, common.ErrForbidden)

	req = h.request(constants.StageTextExtraction)
	req.ProjectID = uuid.New()
	_, err = h.d.Dispatch(ctx, req)
	assert.ErrorIs(t, err, common.ErrForbidden)

	// nothing was recorded or run
	docs, err := h.docs.ListByProject(ctx, h.project.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, h.ext.calls.Load())
}

func TestDispatchValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{name: "missing file name", mutate: func(r *Request) { r.FileName = "  " }},
		{name: "unknown stage", mutate: func(r *Request) { r.Stage = "summarise" }},
		{name: "no content", mutate: func(r *Request) { r.Content = nil }},
		{name: "content and reference", mutate: func(r *Request) { r.SourceReference = r.ProjectID.String() + "/x.txt" }},
		{name: "too large", mutate: func(r *Request) { r.Content = make([]byte, 2<<10) }},
		{name: "foreign reference", mutate: func(r *Request) {
			r.Content = nil
			r.SourceReference = uuid.NewString() + "/x.txt"
		}},
		{name: "missing reference", mutate: func(r *Request) {
			r.Content = nil
			r.SourceReference = r.ProjectID.String() + "/nope.txt"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request(constants.StageTextExtraction)
			tt.mutate(&req)
			doc, err := h.d.Dispatch(context.Background(), req)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestDispatchFromSourceReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := h.project.ID.String() + "/imported.txt"
	require.NoError(t, h.blobs.Put(ctx, key, []byte("record body")))

	req := h.request(constants.StageTextExtraction)
	req.Content = nil
	req.SourceReference = key
	req.SourceKind = constants.SourceImportedRecord

	doc, err := h.d.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "extracted: record body", *doc.ExtractedText)
	assert.Equal(t, constants.SourceImportedRecord, doc.SourceKind)
	assert.Equal(t, key, doc.SourceRef)
}

func TestDispatchCancelledRequestLeavesTerminalState(t *testing.T) {
	h := newHarness(t)
	h.ext.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	doc, err := h.d.Dispatch(ctx, h.request(constants.StageTextExtraction))
	require.Error(t, err)
	assert.Equal(t, common.KindTimeout, common.KindOf(err))
	require.NotNil(t, doc)

	stored, err := h.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusError, stored.Status)
	assert.Equal(t, common.KindTimeout, *stored.ErrorKind)
	assert.Contains(t, *stored.ErrorMessage, "request cancelled")
}

func TestDispatchStaleAttemptDoesNotOverwrite(t *testing.T) {
	h := newHarness(t)
	h.stages.data = entity.Narrative("late analysis")
	// while the stage runs, the watchdog gives up on the attempt and a retry takes over
	h.stages.during = func(ctx context.Context) {
		_, err := h.docs.ReclaimStuck(ctx, time.Now().Add(time.Hour), common.KindTimeout, "processing did not finish within 10m0s")
		require.NoError(t, err)
		docs, err := h.docs.ListByProject(ctx, h.project.ID)
		require.NoError(t, err)
		_, err = h.docs.ResetForRetry(ctx, docs[0].ID, nil)
		require.NoError(t, err)
	}

	doc, err := h.d.Dispatch(context.Background(), h.request(constants.StageFullAnalysis))
	assert.ErrorIs(t, err, common.ErrConflict)
	require.NotNil(t, doc)
	assert.Equal(t, constants.StatusProcessing, doc.Status)
	assert.Equal(t, 2, doc.ProcessingAttempts)
	assert.Nil(t, doc.ExtractedText)
}

func TestReprocess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stages.err = common.NewAppError(common.KindAIProvider, "provider status 429", nil)

	failed, err := h.d.Dispatch(ctx, h.request(constants.StageFullAnalysis))
	require.Error(t, err)

	_, err = h.d.Reprocess(ctx, failed)
	assert.ErrorIs(t, err, common.ErrConflict, "only processing documents can be run")

	h.stages.err = nil
	h.stages.data = entity.Narrative("ok")
	reset, err := h.docs.ResetForRetry(ctx, failed.ID, nil)
	require.NoError(t, err)
	done, err := h.d.Reprocess(ctx, reset)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.ProcessingAttempts)
	assert.Equal(t, entity.DataNarrative, done.ExtractedData.Kind)
}

func TestReprocessMissingSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ext.err = common.NewAppError(common.KindExtraction, "bad file", nil)

	failed, err := h.d.Dispatch(ctx, h.request(constants.StageTextExtraction))
	require.Error(t, err)
	require.NoError(t, h.blobs.Delete(ctx, failed.SourceRef))

	reset, err := h.docs.ResetForRetry(ctx, failed.ID, nil)
	require.NoError(t, err)
	doc, err := h.d.Reprocess(ctx, reset)
	assert.Equal(t, common.KindExtraction, common.KindOf(err))
	assert.Equal(t, constants.StatusError, doc.Status)
	assert.Contains(t, *doc.ErrorMessage, "no longer available")
}

func TestLocalSubmitter(t *testing.T) {
	h := newHarness(t)
	h.stages.data = entity.Structured(map[string]any{"n": float64(3)})
	s := NewLocalSubmitter(h.d, owner)

	sent := false
	res, err := s.Submit(context.Background(), ingestRequest(h.project.ID, "YWJj", func() { sent = true }))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, constants.StatusCompleted, res.Status)
	assert.Equal(t, "extracted: abc", res.ExtractedText)
	assert.Equal(t, entity.DataStructured, res.DataKind)
	assert.Equal(t, map[string]any{"n": float64(3)}, res.ExtractedData)

	_, err = s.Submit(context.Background(), ingestRequest(h.project.ID, "%%%", nil))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
