// Package server exposes the pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/auth"
	"github.com/joseph-ayodele/research-ingest/internal/blob"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/dispatch"
	"github.com/joseph-ayodele/research-ingest/internal/export"
	"github.com/joseph-ayodele/research-ingest/internal/feed"
	"github.com/joseph-ayodele/research-ingest/internal/projects"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/retry"
)

// Deps are the collaborators the handlers call.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Retry      *retry.Controller
	Projects   *projects.Service
	Documents  repository.DocumentRepository
	Blobs      blob.Store
	Export     *export.Service
	Topic      *feed.DocumentTopic
	Tokens     *auth.Tokens
	Health     func(r *http.Request) error // optional readiness probe

	MaxFileSize    int64
	HeartbeatEvery time.Duration
}

type Server struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MaxFileSize <= 0 {
		deps.MaxFileSize = 50 << 20
	}
	if deps.HeartbeatEvery <= 0 {
		deps.HeartbeatEvery = 15 * time.Second
	}
	return &Server{deps: deps, logger: logger}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Tokens, s.logger))

		r.Post("/v1/extract", s.handleExtract)

		r.Route("/v1/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/documents", s.handleListDocuments)
				r.Get("/counts", s.handleCounts)
				r.Get("/export", s.handleExport)
				r.Get("/events", s.handleEvents)
			})
		})

		r.Route("/v1/documents/{documentID}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Delete("/", s.handleDeleteDocument)
			r.Post("/retry", s.handleRetry)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := middleware.GetReqID(r.Context())
		ctx := common.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.logger.Info("http.request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := api.ErrorBodyFor(err)
	_, status := api.Categorize(err)
	if status >= 500 {
		s.logger.Error("http.error", "req_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, api.ErrorResponse{Success: false, Error: body})
}

func decodeJSON(r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return common.InvalidInput("request body too large")
		}
		return common.InvalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}
