package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/dispatch"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/projects"
	"github.com/joseph-ayodele/research-ingest/internal/retry"
)

func (s *Server) extractBodyLimit() int64 {
	// base64 inflates by 4/3; leave room for the other fields
	return s.deps.MaxFileSize/3*4 + 1<<20
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := common.UserIDFromContext(ctx)

	if userID == "" {
		s.writeExtract(w, r, nil, common.Unauthenticated("missing or invalid credentials"))
		return
	}

	var req api.ExtractRequest
	if err := decodeJSON(r, s.extractBodyLimit(), &req); err != nil {
		s.writeExtract(w, r, nil, err)
		return
	}

	if req.Retry {
		id, err := uuid.Parse(strings.TrimSpace(req.DocumentID))
		if err != nil {
			s.writeExtract(w, r, nil, common.InvalidInput("documentId must be a UUID when retry is set"))
			return
		}
		doc, err := s.deps.Retry.Retry(ctx, retry.Request{DocumentID: id, UserID: userID, ExpectedVersion: req.ExpectedVersion})
		s.writeExtract(w, r, doc, err)
		return
	}

	dreq, err := toDispatchRequest(userID, req)
	if err != nil {
		// authorization still comes first
		if pid, perr := uuid.Parse(req.ProjectID); perr == nil {
			if aerr := s.deps.Dispatcher.Authorize(ctx, userID, pid); aerr != nil {
				err = aerr
			}
		}
		s.writeExtract(w, r, nil, err)
		return
	}
	doc, err := s.deps.Dispatcher.Dispatch(ctx, dreq)
	s.writeExtract(w, r, doc, err)
}

func toDispatchRequest(userID string, req api.ExtractRequest) (dispatch.Request, error) {
	pid, err := uuid.Parse(strings.TrimSpace(req.ProjectID))
	if err != nil {
		return dispatch.Request{}, common.InvalidInput("projectId must be a UUID")
	}
	stage, ok := constants.ParseStage(req.ProcessingStage)
	if !ok {
		return dispatch.Request{}, common.InvalidInput(fmt.Sprintf("unknown processingStage %q", req.ProcessingStage))
	}
	kind, ok := constants.ParseSourceKind(req.SourceKind)
	if !ok {
		return dispatch.Request{}, common.InvalidInput(fmt.Sprintf("unknown sourceKind %q", req.SourceKind))
	}
	var content []byte
	if req.FileContentBase64 != "" {
		content, err = base64.StdEncoding.DecodeString(req.FileContentBase64)
		if err != nil {
			return dispatch.Request{}, common.InvalidInput("fileContentBase64 is not valid base64")
		}
	}
	return dispatch.Request{
		UserID:          userID,
		ProjectID:       pid,
		FileName:        req.FileName,
		Content:         content,
		SourceReference: strings.TrimSpace(req.SourceReference),
		Stage:           stage,
		SourceKind:      kind,
		Template:        entity.Template(req.ExtractionTemplate),
	}, nil
}

// writeExtract reports the dispatcher outcome. The status code follows the
// error category; the body always carries the document id when one exists.
func (s *Server) writeExtract(w http.ResponseWriter, r *http.Request, doc *entity.Document, err error) {
	resp := api.ExtractResponse{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	if doc != nil {
		resp.DocumentID = doc.ID.String()
		resp.ProcessingStage = string(doc.Stage)
		resp.Status = string(doc.Status)
		resp.Version = doc.Version
	}
	if err != nil {
		body := api.ErrorBodyFor(err)
		_, status := api.Categorize(err)
		resp.Error = &body
		if status >= 500 {
			s.logger.Warn("http.extract.failed", "document_id", resp.DocumentID, "kind", body.Kind, "error", err)
		}
		writeJSON(w, status, resp)
		return
	}
	resp.Success = true
	resp.Result = api.ResultFromDocument(doc)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeExtract(w, r, nil, common.InvalidInput("document id must be a UUID"))
		return
	}
	var body api.RetryRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, 1<<16, &body); err != nil {
			s.writeExtract(w, r, nil, err)
			return
		}
	}
	doc, err := s.deps.Retry.Retry(r.Context(), retry.Request{
		DocumentID:      id,
		UserID:          common.UserIDFromContext(r.Context()),
		ExpectedVersion: body.ExpectedVersion,
	})
	s.writeExtract(w, r, doc, err)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body api.CreateProjectRequest
	if err := decodeJSON(r, 1<<16, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Projects.CreateProject(r.Context(), projects.CreateProjectRequest{
		OwnerID:     common.UserIDFromContext(r.Context()),
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromProject(p))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Projects.ListProjects(r.Context(), common.UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]api.Project, 0, len(ps))
	for _, p := range ps {
		out = append(out, api.FromProject(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

// projectFromPath resolves {projectID} and checks the caller owns it.
func (s *Server) projectFromPath(r *http.Request) (uuid.UUID, error) {
	userID := common.UserIDFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		if userID == "" {
			return uuid.Nil, common.Unauthenticated("missing or invalid credentials")
		}
		return uuid.Nil, common.InvalidInput("project id must be a UUID")
	}
	if _, err := s.deps.Projects.GetProject(r.Context(), userID, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	pid, err := s.projectFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.deps.Documents.ListByProject(r.Context(), pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := api.DocumentList{Documents: make([]api.Document, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, api.FromDocument(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	pid, err := s.projectFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Documents.CountByStatus(r.Context(), pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CountsResponse{ProjectID: pid.String(), Counts: c, Total: c.Total()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	pid, err := s.projectFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Export.ExportProjectXLSX(r.Context(), pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("project-%s-%s.xlsx", pid.String()[:8], time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// documentFromPath loads {documentID} and checks project ownership.
func (s *Server) documentFromPath(r *http.Request) (*entity.Document, error) {
	userID := common.UserIDFromContext(r.Context())
	if userID == "" {
		return nil, common.Unauthenticated("missing or invalid credentials")
	}
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		return nil, common.InvalidInput("document id must be a UUID")
	}
	doc, err := s.deps.Documents.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("document not found")
		}
		return nil, err
	}
	if err := s.deps.Dispatcher.Authorize(r.Context(), userID, doc.ProjectID); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documentFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromDocument(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documentFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.deps.Documents.Delete(r.Context(), doc.ID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			err = common.NotFound("document not found")
		}
		s.writeError(w, r, err)
		return
	}
	if deleted.SourceRef != "" && s.deps.Blobs != nil {
		if err := s.deps.Blobs.Delete(r.Context(), deleted.SourceRef); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("http.delete.blob_failed", "document_id", deleted.ID, "key", deleted.SourceRef, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
