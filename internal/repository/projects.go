package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

type Project struct {
	Name        string
	Description string
	OwnerID     string
}

type ProjectRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Project, error)
	CreateProject(ctx context.Context, project *Project) (*entity.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Project, error)
	IsOwner(ctx context.Context, projectID uuid.UUID, userID string) (bool, error)
}

type projectRepository struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewProjectRepository(db *DB, logger *slog.Logger, opts ...Option) ProjectRepository {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &projectRepository{db: db, now: o.now, logger: logger}
}

const projectColumns = `id, name, description, owner_id, created_at, updated_at`

func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Project, error) {
	q := r.db.rebind(`SELECT ` + projectColumns + ` FROM projects WHERE id = ?`)
	p, err := scanProject(r.db.SQL.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get project", "project_id", id, "error", err)
		return nil, fmt.Errorf("%w: get project: %w", common.ErrDatabase, err)
	}
	return p, nil
}

func (r *projectRepository) CreateProject(ctx context.Context, project *Project) (*entity.Project, error) {
	now := r.now().UTC()
	var desc sql.NullString
	if project.Description != "" {
		desc = sql.NullString{String: project.Description, Valid: true}
	}
	q := r.db.rebind(`INSERT INTO projects (id, name, description, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING ` + projectColumns)
	p, err := scanProject(r.db.SQL.QueryRowContext(ctx, q, uuid.New(), project.Name, desc, project.OwnerID, now, now))
	if err != nil {
		r.logger.Error("failed to create project", "name", project.Name, "owner_id", project.OwnerID, "error", err)
		return nil, fmt.Errorf("%w: create project: %w", common.ErrDatabase, err)
	}
	return p, nil
}

func (r *projectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Project, error) {
	q := r.db.rebind(`SELECT ` + projectColumns + ` FROM projects WHERE owner_id = ? ORDER BY created_at, id`)
	rows, err := r.db.SQL.QueryContext(ctx, q, ownerID)
	if err != nil {
		r.logger.Error("failed to list projects", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: list projects: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan project: %w", common.ErrDatabase, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *projectRepository) IsOwner(ctx context.Context, projectID uuid.UUID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var n int
	q := r.db.rebind(`SELECT COUNT(*) FROM projects WHERE id = ? AND owner_id = ?`)
	if err := r.db.SQL.QueryRowContext(ctx, q, projectID, userID).Scan(&n); err != nil {
		r.logger.Error("failed to check project ownership", "project_id", projectID, "error", err)
		return false, fmt.Errorf("%w: check ownership: %w", common.ErrDatabase, err)
	}
	return n > 0, nil
}

func scanProject(s rowScanner) (*entity.Project, error) {
	var p entity.Project
	var desc sql.NullString
	if err := s.Scan(&p.ID, &p.Name, &desc, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
