package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

func (s *Service) ListBusinessTypes(ctx context.Context, f models.BusinessTypeFilter) (*models.Page[models.BusinessType], error) {
	q := newQuery().
		page(f.Page, f.Size).
		id("project_id", f.ProjectID).
		boolean("is_active", f.IsActive).
		str("search", f.Search, MaxKeywordLength)
	var page models.Page[models.BusinessType]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("business-types"), q.values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list business types: %w", err)
	}
	return &page, nil
}

func (s *Service) GetBusinessType(ctx context.Context, id int64) (*models.BusinessType, error) {
	if id <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	var bt models.BusinessType
	if err := s.http.Do(ctx, http.MethodGet, endpoint("business-types", idPart(id)), nil, nil, &bt); err != nil {
		return nil, fmt.Errorf("failed to get business type %d: %w", id, err)
	}
	return &bt, nil
}

func validateBusinessType(bt *models.BusinessType) error {
	if bt == nil {
		return errs.Invalid("business_type", "is required")
	}
	bt.Code = NormalizeString(bt.Code, 50)
	bt.Name = NormalizeString(bt.Name, MaxNameLength)
	bt.Description = NormalizeString(bt.Description, MaxContextLength)
	if bt.Code == "" {
		return errs.Invalid("code", "is required")
	}
	if bt.Name == "" {
		return errs.Invalid("name", "is required")
	}
	if bt.ProjectID <= 0 {
		return errs.Invalid("project_id", "must be a positive integer")
	}
	return nil
}

func (s *Service) CreateBusinessType(ctx context.Context, bt *models.BusinessType) (*models.BusinessType, error) {
	if err := validateBusinessType(bt); err != nil {
		return nil, err
	}
	var created models.BusinessType
	if err := s.http.Do(ctx, http.MethodPost, endpoint("business-types"), nil, bt, &created); err != nil {
		return nil, fmt.Errorf("failed to create business type %s: %w", bt.Code, err)
	}
	return &created, nil
}

func (s *Service) UpdateBusinessType(ctx context.Context, bt *models.BusinessType) (*models.BusinessType, error) {
	if bt == nil || bt.ID <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	if err := validateBusinessType(bt); err != nil {
		return nil, err
	}
	var updated models.BusinessType
	if err := s.http.Do(ctx, http.MethodPut, endpoint("business-types", idPart(bt.ID)), nil, bt, &updated); err != nil {
		return nil, fmt.Errorf("failed to update business type %d: %w", bt.ID, err)
	}
	return &updated, nil
}

func (s *Service) DeleteBusinessType(ctx context.Context, id int64) error {
	if id <= 0 {
		return errs.Invalid("id", "must be a positive integer")
	}
	if err := s.http.Do(ctx, http.MethodDelete, endpoint("business-types", idPart(id)), nil, nil, nil); err != nil {
		return deleteError("业务类型", err)
	}
	return nil
}

// ActivateBusinessType toggles activation; activating requires a prompt combination on the backend.
func (s *Service) ActivateBusinessType(ctx context.Context, id int64, active bool) (*models.BusinessType, error) {
	if id <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	var bt models.BusinessType
	body := map[string]bool{"is_active": active}
	if err := s.http.Do(ctx, http.MethodPost, endpoint("business-types", idPart(id), "activate"), nil, body, &bt); err != nil {
		return nil, fmt.Errorf("failed to set activation of business type %d: %w", id, err)
	}
	return &bt, nil
}
