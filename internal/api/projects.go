package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

func (s *Service) ListProjects(ctx context.Context, page, size int) (*models.Page[models.Project], error) {
	var out models.Page[models.Project]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("projects"), newQuery().page(page, size).values(), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return &out, nil
}

func (s *Service) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	if id <= 0 {
		return nil, errs.Invalid("project_id", "must be a positive integer")
	}
	var p models.Project
	if err := s.http.Do(ctx, http.MethodGet, endpoint("projects", idPart(id)), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &p, nil
}

func (s *Service) GetDefaultProject(ctx context.Context) (*models.Project, error) {
	var p models.Project
	if err := s.http.Do(ctx, http.MethodGet, endpoint("projects", "default"), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get default project: %w", err)
	}
	return &p, nil
}
