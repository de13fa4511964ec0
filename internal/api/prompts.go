package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

func (s *Service) ListPrompts(ctx context.Context, f models.PromptFilter) (*models.Page[models.Prompt], error) {
	q := newQuery().
		page(f.Page, f.Size).
		str("type", f.Type, 50).
		str("business_type", f.BusinessType, 50).
		str("status", string(f.Status), 20).
		str("search", f.Search, MaxKeywordLength)
	var page models.Page[models.Prompt]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("prompts"), q.values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return &page, nil
}

func (s *Service) GetPrompt(ctx context.Context, id int64) (*models.Prompt, error) {
	if id <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	var p models.Prompt
	if err := s.http.Do(ctx, http.MethodGet, endpoint("prompts", idPart(id)), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get prompt %d: %w", id, err)
	}
	return &p, nil
}

func validatePrompt(p *models.Prompt) error {
	if p == nil {
		return errs.Invalid("prompt", "is required")
	}
	p.Name = NormalizeString(p.Name, MaxNameLength)
	p.Type = NormalizeString(p.Type, 50)
	if p.Name == "" {
		return errs.Invalid("name", "is required")
	}
	if p.Type == "" {
		return errs.Invalid("type", "is required")
	}
	if p.Status == "" {
		p.Status = models.PromptStatusDraft
	}
	return nil
}

func (s *Service) CreatePrompt(ctx context.Context, p *models.Prompt) (*models.Prompt, error) {
	if err := validatePrompt(p); err != nil {
		return nil, err
	}
	var created models.Prompt
	if err := s.http.Do(ctx, http.MethodPost, endpoint("prompts"), nil, p, &created); err != nil {
		return nil, fmt.Errorf("failed to create prompt %q: %w", p.Name, err)
	}
	return &created, nil
}

func (s *Service) UpdatePrompt(ctx context.Context, p *models.Prompt) (*models.Prompt, error) {
	if p == nil || p.ID <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	if err := validatePrompt(p); err != nil {
		return nil, err
	}
	var updated models.Prompt
	if err := s.http.Do(ctx, http.MethodPut, endpoint("prompts", idPart(p.ID)), nil, p, &updated); err != nil {
		return nil, fmt.Errorf("failed to update prompt %d: %w", p.ID, err)
	}
	return &updated, nil
}

func (s *Service) DeletePrompt(ctx context.Context, id int64) error {
	if id <= 0 {
		return errs.Invalid("id", "must be a positive integer")
	}
	if err := s.http.Do(ctx, http.MethodDelete, endpoint("prompts", idPart(id)), nil, nil, nil); err != nil {
		return deleteError("提示词", err)
	}
	return nil
}

func (s *Service) ListPromptVersions(ctx context.Context, promptID int64) ([]models.PromptVersion, error) {
	if promptID <= 0 {
		return nil, errs.Invalid("prompt_id", "must be a positive integer")
	}
	var versions []models.PromptVersion
	if err := s.http.Do(ctx, http.MethodGet, endpoint("prompts", idPart(promptID), "versions"), nil, nil, &versions); err != nil {
		return nil, fmt.Errorf("failed to list versions of prompt %d: %w", promptID, err)
	}
	return versions, nil
}

func (s *Service) ListPromptCombinations(ctx context.Context, businessType string, page, size int) (*models.Page[models.PromptCombination], error) {
	q := newQuery().page(page, size).str("business_type", businessType, 50)
	var out models.Page[models.PromptCombination]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("prompt-combinations"), q.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list prompt combinations: %w", err)
	}
	return &out, nil
}

// PreviewVariables asks the backend to resolve the template variables in content.
func (s *Service) PreviewVariables(ctx context.Context, businessType, content string) (*models.VariablePreview, error) {
	if content = NormalizeString(content, 0); content == "" {
		return nil, errs.Invalid("content", "is required")
	}
	body := map[string]string{
		"business_type": NormalizeString(businessType, 50),
		"content":       content,
	}
	var out models.VariablePreview
	if err := s.http.Do(ctx, http.MethodPost, endpoint("prompts", "variables", "preview"), nil, body, &out); err != nil {
		return nil, fmt.Errorf("failed to preview variables: %w", err)
	}
	return &out, nil
}
