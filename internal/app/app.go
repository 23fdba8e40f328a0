// Package app wires the storage, feed and processing components from Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/research-ingest/internal/blob"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/dispatch"
	"github.com/joseph-ayodele/research-ingest/internal/export"
	"github.com/joseph-ayodele/research-ingest/internal/extract"
	"github.com/joseph-ayodele/research-ingest/internal/feed"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
	"github.com/joseph-ayodele/research-ingest/internal/llm/openai"
	"github.com/joseph-ayodele/research-ingest/internal/projects"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
	"github.com/joseph-ayodele/research-ingest/internal/retry"
	"github.com/joseph-ayodele/research-ingest/internal/watchdog"
)

// App holds the wired components. Close releases them.
type App struct {
	Config     *common.Config
	DB         *repository.DB
	Documents  repository.DocumentRepository
	Projects   repository.ProjectRepository
	Topic      *feed.DocumentTopic
	Blobs      blob.Store
	Dispatcher *dispatch.Dispatcher
	Retry      *retry.Controller
	Service    *projects.Service
	Export     *export.Service
	Reclaimer  *watchdog.Reclaimer
	Listener   *feed.PGListener // nil unless Postgres

	logger *slog.Logger
}

// Build opens the database, applies the schema and wires every component.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.Migrate(ctx, db, logger); err != nil {
		db.Close(logger)
		return nil, err
	}

	blobs, err := blob.NewFSStore(cfg.Storage.BlobDir, logger)
	if err != nil {
		db.Close(logger)
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Topic:  feed.NewDocumentTopic(feed.DefaultBuffer, logger),
		Blobs:  blobs,
		logger: logger,
	}

	base := repository.NewDocumentRepository(db, logger)
	a.Projects = repository.NewProjectRepository(db, logger)
	if db.Dialect == repository.Postgres {
		// commits announce themselves with pg_notify; the listener fans them out
		a.Documents = base
		a.Listener = feed.NewPGListener(db.Pool, base, a.Topic, logger)
	} else {
		a.Documents = feed.Publishing(base, a.Topic)
	}

	extractor := extract.NewExtractor(extract.Config{
		PDFToText: cfg.Extract.PDFToTextBin,
		MaxChars:  cfg.Extract.MaxChars,
	}, logger)
	provider := openai.NewClient(openai.ConfigFromApp(cfg.LLM), logger)
	analyzer := llm.NewAnalyzer(provider, 0, logger)

	a.Dispatcher = dispatch.NewDispatcher(a.Documents, a.Projects, blobs, extractor, analyzer, logger,
		dispatch.WithMaxFileSize(cfg.Policy.MaxFileSize))
	a.Retry = retry.NewController(a.Documents, a.Dispatcher, logger)
	a.Service = projects.NewService(a.Projects, logger)
	a.Export = export.NewService(a.Documents, logger)
	a.Reclaimer = watchdog.NewReclaimer(a.Documents, cfg.Watchdog.ProcessingDeadline, cfg.Watchdog.Interval, logger)
	return a, nil
}

// RunBackground starts the feed listener and the watchdog until ctx ends.
func (a *App) RunBackground(ctx context.Context) {
	if a.Listener != nil {
		go func() {
			if err := a.Listener.Run(ctx); err != nil {
				a.logger.Error("feed listener stopped", "error", err)
			}
		}()
	}
	if a.Config.Watchdog.Enabled {
		go a.Reclaimer.Run(ctx)
	}
}

func (a *App) Close() {
	a.Topic.Close()
	a.DB.Close(a.logger)
}
