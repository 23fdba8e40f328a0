// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SQLite opens a migrated database in a temp dir, closed on cleanup.
func SQLite(t *testing.T) *repository.DB {
	t.Helper()
	ctx := context.Background()
	logger := Logger()
	db, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(logger) })
	require.NoError(t, repository.Migrate(ctx, db, logger))
	return db
}

// Project creates a project owned by owner.
func Project(t *testing.T, db *repository.DB, owner string) *entity.Project {
	t.Helper()
	repo := repository.NewProjectRepository(db, Logger())
	p, err := repo.CreateProject(context.Background(), &repository.Project{Name: "Sleep review", OwnerID: owner})
	require.NoError(t, err)
	return p
}
