package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

// GenerateUnified triggers generation and returns the backend response unchanged.
func (s *Service) GenerateUnified(ctx context.Context, req models.GenerateRequest) (json.RawMessage, error) {
	req.BusinessType = NormalizeString(req.BusinessType, 50)
	req.AdditionalContext = NormalizeString(req.AdditionalContext, MaxContextLength)
	req.TestPointIDs = NormalizeIDs(req.TestPointIDs)
	if req.BusinessType == "" {
		return nil, errs.Invalid("business_type", "is required")
	}
	if req.ProjectID <= 0 {
		return nil, errs.Invalid("project_id", "must be a positive integer")
	}
	if !req.GenerationMode.Valid() {
		return nil, errs.Invalid("generation_mode", "unknown mode %q", req.GenerationMode)
	}
	if req.GenerationMode == models.ModeTestPointsOnly {
		req.TestPointIDs = nil
	}

	var raw json.RawMessage
	if err := s.http.Do(ctx, http.MethodPost, endpoint("unified-test-cases", "generate"), nil, req, &raw); err != nil {
		return nil, fmt.Errorf("failed to generate %s for %s: %w", req.GenerationMode, req.BusinessType, err)
	}
	return raw, nil
}

func (s *Service) GenerateTestPoints(ctx context.Context, businessType string, projectID int64, additionalContext string) (*models.GenerationResult, error) {
	raw, err := s.GenerateUnified(ctx, models.GenerateRequest{
		BusinessType:      businessType,
		ProjectID:         projectID,
		GenerationMode:    models.ModeTestPointsOnly,
		AdditionalContext: additionalContext,
	})
	if err != nil {
		return nil, err
	}
	return ParseGenerationResult(raw)
}

// GenerateTestCasesFromPoints generates test cases for the given points. With no
// ids the backend uses every point of the business type.
func (s *Service) GenerateTestCasesFromPoints(ctx context.Context, businessType string, projectID int64, pointIDs []int64, additionalContext string) (*models.GenerationResult, error) {
	raw, err := s.GenerateUnified(ctx, models.GenerateRequest{
		BusinessType:      businessType,
		ProjectID:         projectID,
		GenerationMode:    models.ModeTestCasesOnly,
		TestPointIDs:      pointIDs,
		AdditionalContext: additionalContext,
	})
	if err != nil {
		return nil, err
	}
	return ParseGenerationResult(raw)
}

// ParseGenerationResult checks that a trigger response carries a task id.
func ParseGenerationResult(raw json.RawMessage) (*models.GenerationResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty generation response")
	}
	var res models.GenerationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if res.TaskID == "" {
		return nil, fmt.Errorf("generation response has no task_id")
	}
	if res.Status == "" {
		res.Status = models.TaskStatusPending
	} else if !res.Status.Valid() {
		return nil, fmt.Errorf("generation response has unknown status %q", res.Status)
	}
	res.Raw = raw
	return &res, nil
}

// BatchItemResult is the outcome of one business type in a batch trigger.
type BatchItemResult struct {
	BusinessType string
	Result       *models.GenerationResult
	Err          error
}

func (s *Service) BatchGenerateTestPoints(ctx context.Context, projectID int64, businessTypes ...string) []BatchItemResult {
	return s.batchGenerate(ctx, businessTypes, func(ctx context.Context, bt string) (*models.GenerationResult, error) {
		return s.GenerateTestPoints(ctx, bt, projectID, "")
	})
}

func (s *Service) BatchGenerateTestCases(ctx context.Context, projectID int64, businessTypes ...string) []BatchItemResult {
	return s.batchGenerate(ctx, businessTypes, func(ctx context.Context, bt string) (*models.GenerationResult, error) {
		return s.GenerateTestCasesFromPoints(ctx, bt, projectID, nil, "")
	})
}

// batchGenerate never fails as a whole; each item records its own error.
func (s *Service) batchGenerate(ctx context.Context, businessTypes []string, gen func(context.Context, string) (*models.GenerationResult, error)) []BatchItemResult {
	results := make([]BatchItemResult, len(businessTypes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i, bt := range businessTypes {
		results[i].BusinessType = bt
		g.Go(func() error {
			res, err := gen(gctx, bt)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// GenerationBusinessType is one entry of the generation catalogue.
type GenerationBusinessType struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Service) ListGenerationBusinessTypes(ctx context.Context, projectID int64) ([]GenerationBusinessType, error) {
	var out struct {
		BusinessTypes []GenerationBusinessType `json:"business_types"`
	}
	q := newQuery().id("project_id", projectID)
	if err := s.http.Do(ctx, http.MethodGet, endpoint("generation", "business-types"), q.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list generation business types: %w", err)
	}
	return out.BusinessTypes, nil
}
