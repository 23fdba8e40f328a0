// Package client talks to the ingest server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Body       api.ErrorBody
	DocumentID uuid.UUID
}

func (e *APIError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Body.Kind, e.Body.Reason)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body.Reason)
}

func (e *APIError) ErrorKind() string {
	return e.Body.Kind
}

// Unwrap maps the category onto the shared sentinels so errors.Is works across the wire.
func (e *APIError) Unwrap() error {
	switch e.Body.Category {
	case api.CategoryUnauthorized:
		return common.ErrUnauthenticated
	case api.CategoryForbidden:
		return common.ErrForbidden
	case api.CategoryBadRequest:
		return common.ErrInvalidInput
	case api.CategoryNotFound:
		return common.ErrNotFound
	case api.CategoryConflict:
		return common.ErrConflict
	}
	return common.ErrInternal
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client // no overall timeout, for SSE
	logger  *slog.Logger
}

var _ ingest.Submitter = (*Client)(nil)

func New(cfg common.ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{},
		logger:  logger,
	}
}

// notifyReader calls fn once the body has been fully read by the transport.
type notifyReader struct {
	r    io.Reader
	fn   func()
	done bool
}

func (n *notifyReader) Read(p []byte) (int, error) {
	c, err := n.r.Read(p)
	if errors.Is(err, io.EOF) && !n.done {
		n.done = true
		if n.fn != nil {
			n.fn()
		}
	}
	return c, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, common.NewAppError(common.KindTransport, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("client.request_failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return common.NewAppError(common.KindTransport, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.NewAppError(common.KindTransport, "read response", err)
	}
	c.logger.Debug("client.response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return common.NewAppError(common.KindTransport, "decode response", err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	// extract responses and plain error responses share the error field
	var env struct {
		Error      *api.ErrorBody `json:"error"`
		DocumentID string         `json:"documentId"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		apiErr.Body = *env.Error
		apiErr.DocumentID, _ = uuid.Parse(env.DocumentID)
		return apiErr
	}
	apiErr.Body = api.ErrorBody{
		Category: categoryForStatus(status),
		Kind:     common.KindTransport,
		Reason:   strings.TrimSpace(string(raw)),
	}
	if apiErr.Body.Reason == "" {
		apiErr.Body.Reason = http.StatusText(status)
	}
	return apiErr
}

func categoryForStatus(status int) string {
	for _, cat := range []string{api.CategoryUnauthorized, api.CategoryForbidden, api.CategoryBadRequest,
		api.CategoryNotFound, api.CategoryConflict} {
		if api.StatusForCategory(cat) == status {
			return cat
		}
	}
	return api.CategoryServerError
}

// Submit implements ingest.Submitter against POST /v1/extract.
func (c *Client) Submit(ctx context.Context, in ingest.SubmitRequest) (ingest.SubmitResult, error) {
	body, err := json.Marshal(api.ExtractRequest{
		ProjectID:          in.ProjectID.String(),
		FileName:           in.FileName,
		FileContentBase64:  in.ContentBase64,
		ProcessingStage:    string(in.Stage),
		SourceKind:         string(in.SourceKind),
		ExtractionTemplate: in.Template,
	})
	if err != nil {
		return ingest.SubmitResult{}, common.NewAppError(common.KindTransport, "encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/extract", &notifyReader{r: bytes.NewReader(body), fn: in.OnSent})
	if err != nil {
		return ingest.SubmitResult{}, err
	}
	req.ContentLength = int64(len(body))

	var resp api.ExtractResponse
	if err := c.do(req, &resp); err != nil {
		var ae *APIError
		if errors.As(err, &ae) {
			return ingest.SubmitResult{DocumentID: ae.DocumentID}, err
		}
		return ingest.SubmitResult{}, err
	}
	return submitResult(resp), nil
}

func submitResult(resp api.ExtractResponse) ingest.SubmitResult {
	id, _ := uuid.Parse(resp.DocumentID)
	out := ingest.SubmitResult{
		DocumentID: id,
		Status:     constants.DocumentStatus(resp.Status),
		Stage:      constants.ProcessingStage(resp.ProcessingStage),
	}
	if resp.Result != nil {
		out.ExtractedText = resp.Result.ExtractedText
		out.ExtractedData = resp.Result.ExtractedData
		out.DataKind = entity.DataKind(resp.Result.ExtractedDataKind)
	}
	return out
}

// Retry re-runs a failed document. expectedVersion may be nil.
func (c *Client) Retry(ctx context.Context, documentID uuid.UUID, expectedVersion *int64) (ingest.SubmitResult, error) {
	body, _ := json.Marshal(api.RetryRequest{ExpectedVersion: expectedVersion})
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/documents/"+documentID.String()+"/retry", bytes.NewReader(body))
	if err != nil {
		return ingest.SubmitResult{}, err
	}
	var resp api.ExtractResponse
	if err := c.do(req, &resp); err != nil {
		return ingest.SubmitResult{DocumentID: documentID}, err
	}
	return submitResult(resp), nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (api.Project, error) {
	body, _ := json.Marshal(api.CreateProjectRequest{Name: name, Description: description})
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/projects", bytes.NewReader(body))
	if err != nil {
		return api.Project{}, err
	}
	var p api.Project
	if err := c.do(req, &p); err != nil {
		return api.Project{}, err
	}
	return p, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]api.Project, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Projects []api.Project `json:"projects"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// ListByProject lets the client seed a workflow view.
func (c *Client) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*entity.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects/"+projectID.String()+"/documents", nil)
	if err != nil {
		return nil, err
	}
	var out api.DocumentList
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	docs := make([]*entity.Document, 0, len(out.Documents))
	for _, d := range out.Documents {
		docs = append(docs, d.ToEntity())
	}
	return docs, nil
}

func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/documents/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	var d api.Document
	if err := c.do(req, &d); err != nil {
		return nil, err
	}
	return d.ToEntity(), nil
}

func (c *Client) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/documents/"+id.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) Counts(ctx context.Context, projectID uuid.UUID) (entity.AggregateCounts, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects/"+projectID.String()+"/counts", nil)
	if err != nil {
		return entity.AggregateCounts{}, err
	}
	var out api.CountsResponse
	if err := c.do(req, &out); err != nil {
		return entity.AggregateCounts{}, err
	}
	return out.Counts, nil
}

// Export downloads the project workbook.
func (c *Client) Export(ctx context.Context, projectID uuid.UUID) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects/"+projectID.String()+"/export", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, common.NewAppError(common.KindTransport, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewAppError(common.KindTransport, "read response", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}
