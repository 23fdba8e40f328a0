package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// Phase is a per-file progress step.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseEncoding   Phase = "encoding"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Progress is one per-file update.
type Progress struct {
	Index      int
	FileName   string
	Phase      Phase
	Message    string
	DocumentID uuid.UUID
	Estimate   time.Duration // expected processing time, set on PhaseProcessing
}

// ProgressFunc receives updates. Calls are serialized.
type ProgressFunc func(Progress)

// Batch is a set of files sharing a stage and template.
type Batch struct {
	ProjectID  uuid.UUID
	Stage      constants.ProcessingStage
	SourceKind constants.SourceKind
	Template   entity.Template
	Files      []File
}

// FileOutcome is the local terminal state of one file.
type FileOutcome struct {
	Index      int
	FileName   string
	Status     constants.DocumentStatus
	DocumentID uuid.UUID
	Result     *SubmitResult
	ErrorKind  string
	Error      string
}

type BatchResult struct {
	Files   []FileOutcome
	Dropped []string // over the batch cap, never submitted
}

// Counts tallies the outcomes by status.
func (r BatchResult) Counts() entity.AggregateCounts {
	var c entity.AggregateCounts
	for _, f := range r.Files {
		c.Add(f.Status, 1)
	}
	return c
}

// Gate validates files and submits the accepted ones concurrently.
type Gate struct {
	policy    Policy
	submitter Submitter
	logger    *slog.Logger
}

func NewGate(policy Policy, submitter Submitter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxBatchSize <= 0 {
		policy.MaxBatchSize = constants.DefaultMaxBatchSize
	}
	if policy.MaxFileSize <= 0 {
		policy.MaxFileSize = constants.DefaultMaxFileSize
	}
	if len(policy.AllowedMimeTypes) == 0 {
		policy.AllowedMimeTypes = constants.DefaultAllowedMimeTypes
	}
	return &Gate{policy: policy, submitter: submitter, logger: logger}
}

func (g *Gate) Policy() Policy {
	return g.policy
}

// SubmitBatch truncates the batch to the cap, then handles every file in its
// own goroutine. A failing file never affects its siblings; the returned
// outcomes are in input order.
func (g *Gate) SubmitBatch(ctx context.Context, b Batch, progress ProgressFunc) BatchResult {
	files := b.Files
	var res BatchResult
	if len(files) > g.policy.MaxBatchSize {
		for _, f := range files[g.policy.MaxBatchSize:] {
			res.Dropped = append(res.Dropped, f.Name)
		}
		files = files[:g.policy.MaxBatchSize]
		g.logger.Warn("ingest.batch_truncated", "max", g.policy.MaxBatchSize, "dropped", len(res.Dropped))
	}

	var mu sync.Mutex
	report := func(p Progress) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(p)
	}

	res.Files = make([]FileOutcome, len(files))
	var eg errgroup.Group
	if g.policy.MaxInFlight > 0 {
		eg.SetLimit(g.policy.MaxInFlight)
	}
	for i, f := range files {
		eg.Go(func() error {
			res.Files[i] = g.submitOne(ctx, b, i, f, report)
			return nil
		})
	}
	_ = eg.Wait()

	c := res.Counts()
	g.logger.Info("ingest.batch_done",
		"project_id", b.ProjectID,
		"stage", b.Stage,
		"files", len(files),
		"completed", c.Completed,
		"error", c.Error,
		"dropped", len(res.Dropped),
	)
	return res
}

func (g *Gate) submitOne(ctx context.Context, b Batch, i int, f File, report func(Progress)) (out FileOutcome) {
	out = FileOutcome{Index: i, FileName: f.Name}
	fail := func(kind, msg string) FileOutcome {
		out.Status = constants.StatusError
		out.ErrorKind = kind
		out.Error = msg
		report(Progress{Index: i, FileName: f.Name, Phase: PhaseError, Message: msg, DocumentID: out.DocumentID})
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("ingest.file_panic", "file", f.Name, "panic", r)
			out = fail(common.KindInternal, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	report(Progress{Index: i, FileName: f.Name, Phase: PhaseValidating})
	if v := g.policy.Validate(f.FileDescriptor); !v.OK {
		g.logger.Info("ingest.rejected", "file", f.Name, "reason", v.Reason)
		return fail(common.KindValidation, v.Reason)
	}

	report(Progress{Index: i, FileName: f.Name, Phase: PhaseEncoding})
	data, err := f.Read()
	if err != nil {
		return fail(common.KindValidation, fmt.Sprintf("read file: %v", err))
	}
	if int64(len(data)) > g.policy.MaxFileSize {
		return fail(common.KindValidation, fmt.Sprintf("file is %s, which exceeds the %s limit",
			humanBytes(int64(len(data))), humanBytes(g.policy.MaxFileSize)))
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	report(Progress{Index: i, FileName: f.Name, Phase: PhaseUploading})
	var once sync.Once
	sent := func() {
		once.Do(func() {
			report(Progress{Index: i, FileName: f.Name, Phase: PhaseProcessing,
				Estimate: constants.EstimatedDuration(b.Stage)})
		})
	}
	r, err := g.submitter.Submit(ctx, SubmitRequest{
		ProjectID:     b.ProjectID,
		FileName:      f.Name,
		ContentBase64: encoded,
		Stage:         b.Stage,
		SourceKind:    b.SourceKind,
		Template:      b.Template,
		OnSent:        sent,
	})
	if err != nil {
		out.DocumentID = r.DocumentID
		return fail(common.KindOf(err), err.Error())
	}
	sent()

	out.DocumentID = r.DocumentID
	out.Result = &r
	out.Status = r.Status
	if out.Status == "" {
		out.Status = constants.StatusCompleted
	}
	report(Progress{Index: i, FileName: f.Name, Phase: PhaseCompleted, DocumentID: r.DocumentID})
	return out
}
