package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
	"github.com/joseph-ayodele/research-ingest/internal/servertest"
)

const owner = "user-1"

func call(t *testing.T, env *servertest.Env, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, env.Server.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func extractBody(projectID uuid.UUID, stage, text string) api.ExtractRequest {
	return api.ExtractRequest{
		ProjectID:         projectID.String(),
		FileName:          "abstract.txt",
		FileContentBase64: base64.StdEncoding.EncodeToString([]byte(text)),
		ProcessingStage:   stage,
	}
}

func TestHealth(t *testing.T) {
	env := servertest.Start(t)
	resp, raw := call(t, env, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestExtractStages(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	tok := env.Token(t, owner)

	t.Run("text_extraction", func(t *testing.T) {
		resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok,
			extractBody(p.ID, "text_extraction", "Sleep improves recall."))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		out := decode[api.ExtractResponse](t, raw)
		assert.True(t, out.Success)
		assert.Equal(t, "completed", out.Status)
		assert.Equal(t, "text_extraction", out.ProcessingStage)
		require.NotNil(t, out.Result)
		assert.Equal(t, "Sleep improves recall.", out.Result.ExtractedText)
		assert.Nil(t, out.Result.ExtractedData)
		assert.NotEmpty(t, out.DocumentID)
	})

	t.Run("text_extraction returns the file as written", func(t *testing.T) {
		text := "Sleep and memory\n\n\nA well-\nknown  effect\twas seen.\n"
		resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok,
			extractBody(p.ID, "text_extraction", text))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		out := decode[api.ExtractResponse](t, raw)
		require.NotNil(t, out.Result)
		assert.Equal(t, text, out.Result.ExtractedText)
	})

	t.Run("data_extraction", func(t *testing.T) {
		body := extractBody(p.ID, "data_extraction", "Sleep improves recall in 120 adults.")
		body.ExtractionTemplate = map[string]string{"title": "string", "sample_size": "integer"}
		resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok, body)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		out := decode[api.ExtractResponse](t, raw)
		assert.Equal(t, "structured", out.Result.ExtractedDataKind)
		assert.Equal(t, "Sleep and memory", out.Result.ExtractedData["title"])
		assert.EqualValues(t, 120, out.Result.ExtractedData["sample_size"])
	})

	t.Run("full_analysis", func(t *testing.T) {
		resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok,
			extractBody(p.ID, "full_analysis", "Sleep improves recall."))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		out := decode[api.ExtractResponse](t, raw)
		assert.Equal(t, "narrative", out.Result.ExtractedDataKind)
		assert.Equal(t, "Methodology: randomised controlled trial.", out.Result.ExtractedData["analysis"])
	})
}

func TestExtractErrorCategories(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	other := env.Project(t, "user-2")
	tok := env.Token(t, owner)

	tests := []struct {
		name     string
		token    string
		body     any
		status   int
		category string
	}{
		{name: "no token", body: extractBody(p.ID, "text_extraction", "x"),
			status: http.StatusUnauthorized, category: api.CategoryUnauthorized},
		{name: "garbage token", token: "not-a-jwt", body: extractBody(p.ID, "text_extraction", "x"),
			status: http.StatusUnauthorized, category: api.CategoryUnauthorized},
		{name: "foreign project", token: tok, body: extractBody(other.ID, "text_extraction", "x"),
			status: http.StatusForbidden, category: api.CategoryForbidden},
		{name: "unknown project", token: tok, body: extractBody(uuid.New(), "text_extraction", "x"),
			status: http.StatusForbidden, category: api.CategoryForbidden},
		{name: "foreign project beats bad stage", token: tok, body: extractBody(other.ID, "summarise", "x"),
			status: http.StatusForbidden, category: api.CategoryForbidden},
		{name: "unknown stage", token: tok, body: extractBody(p.ID, "summarise", "x"),
			status: http.StatusBadRequest, category: api.CategoryBadRequest},
		{name: "bad base64", token: tok, body: map[string]any{
			"projectId": p.ID.String(), "fileName": "a.txt", "fileContentBase64": "%%%", "processingStage": "text_extraction"},
			status: http.StatusBadRequest, category: api.CategoryBadRequest},
		{name: "missing content", token: tok, body: map[string]any{
			"projectId": p.ID.String(), "fileName": "a.txt", "processingStage": "text_extraction"},
			status: http.StatusBadRequest, category: api.CategoryBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := call(t, env, http.MethodPost, "/v1/extract", tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(raw))
			out := decode[api.ExtractResponse](t, raw)
			assert.False(t, out.Success)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.category, out.Error.Category)
			assert.NotEmpty(t, out.Error.Reason)
		})
	}

	docs, err := env.Documents.ListByProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, docs, "rejected requests must not create documents")
}

func TestExtractionFailureIsStoredAndRetryable(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	tok := env.Token(t, owner)
	env.Provider.SetErr(&llm.ProviderError{StatusCode: 503, Message: "overloaded"})

	resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok, extractBody(p.ID, "data_extraction", "Sleep."))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode, string(raw))
	out := decode[api.ExtractResponse](t, raw)
	require.NotNil(t, out.Error)
	assert.Equal(t, api.CategoryServerError, out.Error.Category)
	assert.Equal(t, common.KindAIProvider, out.Error.Kind)
	assert.Equal(t, "error", out.Status)
	require.NotEmpty(t, out.DocumentID)

	resp, raw = call(t, env, http.MethodGet, "/v1/documents/"+out.DocumentID, tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[api.Document](t, raw)
	assert.Equal(t, "error", doc.Status)
	assert.Equal(t, common.KindAIProvider, doc.ErrorKind)
	assert.Equal(t, 1, doc.ProcessingAttempts)

	// a stale version loses
	stale := doc.Version - 1
	resp, raw = call(t, env, http.MethodPost, "/v1/documents/"+out.DocumentID+"/retry", tok, api.RetryRequest{ExpectedVersion: &stale})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	env.Provider.SetErr(nil)
	resp, raw = call(t, env, http.MethodPost, "/v1/documents/"+out.DocumentID+"/retry", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	retried := decode[api.ExtractResponse](t, raw)
	assert.True(t, retried.Success)
	assert.Equal(t, out.DocumentID, retried.DocumentID)
	assert.Equal(t, "structured", retried.Result.ExtractedDataKind)

	// completed documents are not retryable
	resp, raw = call(t, env, http.MethodPost, "/v1/extract", tok, api.ExtractRequest{Retry: true, DocumentID: out.DocumentID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))
	conflict := decode[api.ExtractResponse](t, raw)
	assert.Equal(t, api.CategoryConflict, conflict.Error.Category)
	assert.Equal(t, "completed", conflict.Status)

	// someone else cannot retry it either
	resp, _ = call(t, env, http.MethodPost, "/v1/documents/"+out.DocumentID+"/retry", env.Token(t, "user-2"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProjectsAndDocuments(t *testing.T) {
	env := servertest.Start(t)
	tok := env.Token(t, owner)

	resp, raw := call(t, env, http.MethodPost, "/v1/projects", tok, api.CreateProjectRequest{Name: "Sleep review", Description: "adults"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	p := decode[api.Project](t, raw)
	assert.Equal(t, owner, p.OwnerID)

	resp, _ = call(t, env, http.MethodPost, "/v1/projects", tok, api.CreateProjectRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = call(t, env, http.MethodGet, "/v1/projects", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Projects []api.Project `json:"projects"`
	}](t, raw)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, p.ID, list.Projects[0].ID)

	pid := uuid.MustParse(p.ID)
	for _, text := range []string{"one", "two"} {
		resp, raw = call(t, env, http.MethodPost, "/v1/extract", tok, extractBody(pid, "text_extraction", text))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	}

	resp, raw = call(t, env, http.MethodGet, "/v1/projects/"+p.ID+"/documents", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[api.DocumentList](t, raw)
	require.Len(t, docs.Documents, 2)

	resp, raw = call(t, env, http.MethodGet, "/v1/projects/"+p.ID+"/counts", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := decode[api.CountsResponse](t, raw)
	assert.Equal(t, 2, counts.Counts.Completed)
	assert.Equal(t, 2, counts.Total)

	// other users see nothing
	resp, _ = call(t, env, http.MethodGet, "/v1/projects/"+p.ID+"/documents", env.Token(t, "user-2"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, env, http.MethodGet, "/v1/projects/"+uuid.NewString()+"/counts", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := docs.Documents[0].ID
	resp, _ = call(t, env, http.MethodDelete, "/v1/documents/"+id, tok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = call(t, env, http.MethodGet, "/v1/documents/"+id, tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportWorkbook(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	tok := env.Token(t, owner)

	body := extractBody(p.ID, "data_extraction", "Sleep improves recall.")
	body.ExtractionTemplate = map[string]string{"title": "string", "sample_size": "integer"}
	resp, raw := call(t, env, http.MethodPost, "/v1/extract", tok, body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = call(t, env, http.MethodGet, "/v1/projects/"+p.ID.String()+"/export", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Documents")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "sample_size")
	assert.Contains(t, rows[1], "abstract.txt")
}

func TestEventsStream(t *testing.T) {
	env := servertest.Start(t)
	p := env.Project(t, owner)
	tok := env.Token(t, owner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.Server.URL+"/v1/projects/"+p.ID.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	type sse struct{ event, data string }
	events := make(chan sse, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		var cur sse
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.event != "":
				events <- cur
				cur = sse{}
			}
		}
	}()
	next := func() sse {
		t.Helper()
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return sse{}
	}

	require.Equal(t, api.EventReady, next().event)

	resp2, raw := call(t, env, http.MethodPost, "/v1/extract", tok, extractBody(p.ID, "text_extraction", "Sleep."))
	require.Equal(t, http.StatusOK, resp2.StatusCode, string(raw))
	docID := decode[api.ExtractResponse](t, raw).DocumentID

	var statuses []string
	for len(statuses) < 3 {
		ev := next()
		require.Equal(t, api.EventChange, ev.event)
		change := decode[api.Event](t, []byte(ev.data))
		assert.Equal(t, docID, change.Document.ID)
		statuses = append(statuses, change.Document.Status)
	}
	assert.Equal(t, []string{"pending", "processing", "completed"}, statuses)

	// unauthenticated streams are refused before subscribing
	r3, _ := call(t, env, http.MethodGet, "/v1/projects/"+p.ID.String()+"/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r3.StatusCode)
}
