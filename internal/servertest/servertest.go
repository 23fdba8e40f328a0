// Package servertest runs the HTTP server in-process over SQLite for tests.
package servertest

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/internal/auth"
	"github.com/joseph-ayodele/research-ingest/internal/blob"
	"github.com/joseph-ayodele/research-ingest/internal/dispatch"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/export"
	"github.com/joseph-ayodele/research-ingest/internal/extract"
	"github.com/joseph-ayodele/research-ingest/internal/feed"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
	"github.com/joseph-ayodele/research-ingest/internal/projects"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/retry"
	"github.com/joseph-ayodele/research-ingest/internal/server"
	"github.com/joseph-ayodele/research-ingest/internal/testutil"
)

const Secret = "0123456789abcdef0123456789abcdef"

// Provider is a scripted language model. Replies are returned by the
// completion's JSONMode: JSON for data_extraction, prose for analysis.
type Provider struct {
	mu       sync.Mutex
	JSON     string
	Prose    string
	Err      error
	Requests []llm.Completion
}

func (p *Provider) Complete(_ context.Context, c llm.Completion) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, c)
	if p.Err != nil {
		return "", p.Err
	}
	if c.JSONMode {
		return p.JSON, nil
	}
	return p.Prose, nil
}

// SetErr swaps the provider failure under the lock.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}

// Env is a running server plus handles on its collaborators.
type Env struct {
	Server    *httptest.Server
	Documents repository.DocumentRepository
	Projects  *projects.Service
	Topic     *feed.DocumentTopic
	Blobs     *blob.FSStore
	Tokens    *auth.Tokens
	Provider  *Provider
}

// Start wires the full stack and closes it on cleanup.
func Start(t *testing.T) *Env {
	t.Helper()
	logger := testutil.Logger()
	db := testutil.SQLite(t)

	topic := feed.NewDocumentTopic(64, logger)
	docs := feed.Publishing(repository.NewDocumentRepository(db, logger), topic)
	projectRepo := repository.NewProjectRepository(db, logger)

	blobs, err := blob.NewFSStore(t.TempDir(), logger)
	require.NoError(t, err)
	tokens, err := auth.NewTokens([]byte(Secret), "research-ingest", time.Hour)
	require.NoError(t, err)

	provider := &Provider{
		JSON:  `{"title": "Sleep and memory", "sample_size": 120}`,
		Prose: "Methodology: randomised controlled trial.",
	}
	analyzer := llm.NewAnalyzer(provider, 0, logger)
	dispatcher := dispatch.NewDispatcher(docs, projectRepo, blobs, extract.NewExtractor(extract.Config{}, logger), analyzer, logger,
		dispatch.WithMaxFileSize(1<<20))
	projectSvc := projects.NewService(projectRepo, logger)

	srv := server.New(server.Deps{
		Dispatcher:     dispatcher,
		Retry:          retry.NewController(docs, dispatcher, logger),
		Projects:       projectSvc,
		Documents:      docs,
		Blobs:          blobs,
		Export:         export.NewService(docs, logger),
		Topic:          topic,
		Tokens:         tokens,
		MaxFileSize:    1 << 20,
		HeartbeatEvery: time.Second,
	}, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	// ends open event streams so ts.Close does not wait on them
	t.Cleanup(topic.Close)

	return &Env{
		Server:    ts,
		Documents: docs,
		Projects:  projectSvc,
		Topic:     topic,
		Blobs:     blobs,
		Tokens:    tokens,
		Provider:  provider,
	}
}

// Token issues a bearer token for userID.
func (e *Env) Token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.Tokens.Issue(userID, "")
	require.NoError(t, err)
	return tok
}

// Project creates a project owned by owner.
func (e *Env) Project(t *testing.T, owner string) *entity.Project {
	t.Helper()
	p, err := e.Projects.CreateProject(context.Background(), projects.CreateProjectRequest{OwnerID: owner, Name: "Sleep review"})
	require.NoError(t, err)
	return p
}
