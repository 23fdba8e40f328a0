package client

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
	"github.com/joseph-ayodele/research-ingest/internal/servertest"
	"github.com/joseph-ayodele/research-ingest/internal/testutil"
	"github.com/joseph-ayodele/research-ingest/internal/workflow"
)

const owner = "user-1"

func newTestClient(t *testing.T, env *servertest.Env, userID string) *Client {
	t.Helper()
	token := ""
	if userID != "" {
		token = env.Token(t, userID)
	}
	return New(common.ClientConfig{ServerURL: env.Server.URL + "/", Token: token, Timeout: 10 * time.Second}, testutil.Logger())
}

func submitReq(projectID uuid.UUID, stage constants.ProcessingStage, text string) ingest.SubmitRequest {
	return ingest.SubmitRequest{
		ProjectID:     projectID,
		FileName:      "abstract.txt",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte(text)),
		Stage:         stage,
	}
}

func TestSubmit(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	c := newTestClient(t, env, owner)

	var sent atomic.Bool
	req := submitReq(p.ID, constants.StageDataExtraction, "Sleep improves recall.")
	req.Template = entity.Template{"title": "string"}
	req.OnSent = func() { sent.Store(true) }

	res, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, sent.Load())
	assert.NotEqual(t, uuid.Nil, res.DocumentID)
	assert.Equal(t, constants.StatusCompleted, res.Status)
	assert.Equal(t, constants.StageDataExtraction, res.Stage)
	assert.Equal(t, "Sleep improves recall.", res.ExtractedText)
	assert.Equal(t, entity.DataStructured, res.DataKind)
	assert.Equal(t, map[string]any{"title": "Sleep and memory"}, res.ExtractedData)
}

func TestSubmitErrors(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := newTestClient(t, env, "").Submit(context.Background(), submitReq(p.ID, constants.StageTextExtraction, "x"))
		assert.ErrorIs(t, err, common.ErrUnauthenticated)
		assert.Equal(t, common.KindAuthorization, common.KindOf(err))
	})

	t.Run("forbidden", func(t *testing.T) {
		_, err := newTestClient(t, env, "user-2").Submit(context.Background(), submitReq(p.ID, constants.StageTextExtraction, "x"))
		assert.ErrorIs(t, err, common.ErrForbidden)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, api.CategoryForbidden, apiErr.Body.Category)
	})

	t.Run("processing failure keeps the document id", func(t *testing.T) {
		env.Provider.SetErr(&llm.ProviderError{StatusCode: 429, Message: "rate limited"})
		defer env.Provider.SetErr(nil)

		c := newTestClient(t, env, owner)
		res, err := c.Submit(context.Background(), submitReq(p.ID, constants.StageFullAnalysis, "Sleep."))
		require.Error(t, err)
		assert.Equal(t, common.KindAIProvider, common.KindOf(err))
		assert.ErrorIs(t, err, common.ErrInternal)
		require.NotEqual(t, uuid.Nil, res.DocumentID)

		doc, err := c.GetDocument(context.Background(), res.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, constants.StatusError, doc.Status)

		env.Provider.SetErr(nil)
		retried, err := c.Retry(context.Background(), res.DocumentID, nil)
		require.NoError(t, err)
		assert.Equal(t, constants.StatusCompleted, retried.Status)
		assert.Equal(t, entity.DataNarrative, retried.DataKind)

		_, err = c.Retry(context.Background(), res.DocumentID, nil)
		assert.ErrorIs(t, err, common.ErrConflict)
	})
}

func TestProjectAndDocumentCalls(t *testing.T) {
	env := servertest.Start(t)
	c := newTestClient(t, env, owner)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, "Sleep review", "adults only")
	require.NoError(t, err)
	assert.Equal(t, "adults only", p.Description)

	_, err = c.CreateProject(ctx, "", "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	list, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	pid := uuid.MustParse(p.ID)
	res, err := c.Submit(ctx, submitReq(pid, constants.StageTextExtraction, "one"))
	require.NoError(t, err)

	docs, err := c.ListByProject(ctx, pid)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocumentID, docs[0].ID)
	assert.Equal(t, pid, docs[0].ProjectID)
	assert.Equal(t, "one", *docs[0].ExtractedText)

	counts, err := c.Counts(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, entity.AggregateCounts{Completed: 1}, counts)

	xlsx, err := c.Export(ctx, pid)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(xlsx), "PK"), "xlsx is a zip archive")

	require.NoError(t, c.DeleteDocument(ctx, res.DocumentID))
	_, err = c.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = c.Counts(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestNonJSONErrorsBecomeTransportErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(common.ClientConfig{ServerURL: ts.URL}, testutil.Logger())
	_, err := c.ListProjects(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, api.CategoryServerError, apiErr.Body.Category)
	assert.Equal(t, common.KindTransport, common.KindOf(err))
	assert.Equal(t, "upstream unavailable", apiErr.Body.Reason)
}

func TestUnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(common.ClientConfig{ServerURL: url, Timeout: time.Second}, testutil.Logger())
	_, err := c.ListProjects(context.Background())
	assert.Equal(t, common.KindTransport, common.KindOf(err))
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": ping",
		"",
		"event: ready",
		`data: {"projectId":"p"}`,
		"",
		"data: line one",
		"data: line two",
		"",
		"event: change",
		"data:{}",
		"",
		"event: dangling",
	}, "\n")

	type got struct{ event, data string }
	var out []got
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		out = append(out, got{event, data})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []got{
		{"ready", `{"projectId":"p"}`},
		{"message", "line one\nline two"},
		{"change", "{}"},
	}, out)

	stop := errors.New("stop")
	err = readSSE(strings.NewReader(stream), func(string, string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestStreamEventsRefused(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)

	err := newTestClient(t, env, "user-2").StreamEvents(context.Background(), p.ID, StreamHandlers{})
	assert.ErrorIs(t, err, common.ErrForbidden)

	// Follow gives up on client errors instead of reconnecting
	err = newTestClient(t, env, "").Follow(context.Background(), p.ID, nil)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)
}

func TestFollowMirrorsServerState(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	c := newTestClient(t, env, owner)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	updates := make(chan workflow.Update, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.Follow(ctx, p.ID, func(_ *workflow.View, u workflow.Update) {
			select {
			case updates <- u:
			default:
			}
		})
	}()

	waitFor := func(cond func(workflow.Update) bool) workflow.Update {
		t.Helper()
		for {
			select {
			case u := <-updates:
				if cond(u) {
					return u
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for workflow update")
				return workflow.Update{}
			}
		}
	}

	seeded := waitFor(func(u workflow.Update) bool { return u.Resync })
	assert.Zero(t, seeded.Counts.Total())

	_, err := c.Submit(ctx, submitReq(p.ID, constants.StageTextExtraction, "Sleep."))
	require.NoError(t, err)
	last := waitFor(func(u workflow.Update) bool { return u.Counts.Completed == 1 })
	assert.Equal(t, 1, last.Counts.Total())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancellation")
	}
}
