// Package projects holds project business logic.
package projects

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/repository"
)

// Service handles project creation, listing and ownership lookups.
type Service struct {
	repo   repository.ProjectRepository
	logger *slog.Logger
}

func NewService(repo repository.ProjectRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CreateProjectRequest represents project creation parameters.
type CreateProjectRequest struct {
	OwnerID     string
	Name        string
	Description string
}

// CreateProject creates a project owned by the caller.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (*entity.Project, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, common.Unauthenticated("missing or invalid credentials")
	}
	v := common.NewValidator()
	v.Field("name", req.Name, common.Required, common.MaxLength(200))
	v.Field("description", req.Description, common.MaxLength(2000))
	if err := v.Err(); err != nil {
		return nil, err
	}

	p, err := s.repo.CreateProject(ctx, &repository.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		return nil, common.NewAppError(common.KindInternal, "create project", err)
	}
	s.logger.Info("project created", "project_id", p.ID, "owner_id", p.OwnerID)
	return p, nil
}

// ListProjects returns the caller's projects.
func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]*entity.Project, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, common.Unauthenticated("missing or invalid credentials")
	}
	ps, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, common.NewAppError(common.KindInternal, "list projects", err)
	}
	return ps, nil
}

// GetProject returns a project the caller owns. Projects owned by someone
// else are reported as forbidden.
func (s *Service) GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Project, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, common.Unauthenticated("missing or invalid credentials")
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFound("project not found")
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, common.Forbidden("not a member of this project")
	}
	return p, nil
}
