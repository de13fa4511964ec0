package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/pkg/models"
)

func caseQuery(f models.CaseFilter) *query {
	return newQuery().
		page(f.Page, f.Size).
		id("project_id", f.ProjectID).
		str("business_type", f.BusinessType, 50).
		str("stage", string(f.Stage), 20).
		str("status", string(f.Status), 20).
		str("priority", string(f.Priority), 20).
		str("keyword", f.Keyword, MaxKeywordLength).
		ids("test_point_ids", f.TestPointIDs)
}

func (s *Service) ListUnifiedTestCases(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error) {
	var page models.Page[models.UnifiedTestCase]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("unified-test-cases"), caseQuery(f).values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list unified test cases: %w", err)
	}
	return &page, nil
}

// ListTestPoints queries the stage-specific test point view.
func (s *Service) ListTestPoints(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error) {
	f.Stage = ""
	var page models.Page[models.UnifiedTestCase]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("test-points"), caseQuery(f).values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list test points: %w", err)
	}
	return &page, nil
}

// ListTestCases queries the stage-specific test case view.
func (s *Service) ListTestCases(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error) {
	f.Stage = ""
	var page models.Page[models.UnifiedTestCase]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("test-cases"), caseQuery(f).values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	return &page, nil
}

func (s *Service) GetUnifiedTestCase(ctx context.Context, id int64) (*models.UnifiedTestCase, error) {
	if id <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	var tc models.UnifiedTestCase
	if err := s.http.Do(ctx, http.MethodGet, endpoint("unified-test-cases", idPart(id)), nil, nil, &tc); err != nil {
		return nil, fmt.Errorf("failed to get unified test case %d: %w", id, err)
	}
	return &tc, nil
}

func (s *Service) CreateUnifiedTestCase(ctx context.Context, tc *models.UnifiedTestCase) (*models.UnifiedTestCase, error) {
	if err := prepareCase(tc); err != nil {
		return nil, err
	}
	var created models.UnifiedTestCase
	if err := s.http.Do(ctx, http.MethodPost, endpoint("unified-test-cases"), nil, tc, &created); err != nil {
		return nil, fmt.Errorf("failed to create unified test case: %w", err)
	}
	return &created, nil
}

func (s *Service) UpdateUnifiedTestCase(ctx context.Context, tc *models.UnifiedTestCase) (*models.UnifiedTestCase, error) {
	if tc.ID <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	if err := prepareCase(tc); err != nil {
		return nil, err
	}
	var updated models.UnifiedTestCase
	if err := s.http.Do(ctx, http.MethodPut, endpoint("unified-test-cases", idPart(tc.ID)), nil, tc, &updated); err != nil {
		return nil, fmt.Errorf("failed to update unified test case %d: %w", tc.ID, err)
	}
	return &updated, nil
}

func prepareCase(tc *models.UnifiedTestCase) error {
	if tc == nil {
		return errs.Invalid("test_case", "is required")
	}
	tc.Name = NormalizeString(tc.Name, MaxNameLength)
	tc.BusinessType = NormalizeString(tc.BusinessType, 50)
	tc.TestPointIDs = NormalizeIDs(tc.TestPointIDs)
	if tc.Status == "" {
		tc.Status = models.CaseStatusDraft
	}
	if tc.ProjectID <= 0 {
		return errs.Invalid("project_id", "must be a positive integer")
	}
	if err := tc.Validate(); err != nil {
		return &errs.ValidationError{Message: err.Error()}
	}
	return nil
}

func (s *Service) UpdateUnifiedTestCaseStatus(ctx context.Context, id int64, status models.CaseStatus) (*models.UnifiedTestCase, error) {
	if id <= 0 {
		return nil, errs.Invalid("id", "must be a positive integer")
	}
	if !status.Valid() {
		return nil, errs.Invalid("status", "unknown status %q", status)
	}
	var updated models.UnifiedTestCase
	body := map[string]models.CaseStatus{"status": status}
	if err := s.http.Do(ctx, http.MethodPatch, endpoint("unified-test-cases", idPart(id), "status"), nil, body, &updated); err != nil {
		return nil, fmt.Errorf("failed to update status of unified test case %d: %w", id, err)
	}
	return &updated, nil
}

// DeleteError carries display text for a failed delete; the HTTP failure stays reachable via errors.As.
type DeleteError struct {
	Message string
	Err     error
}

func (e *DeleteError) Error() string {
	return e.Message
}

func (e *DeleteError) UserMessage() string {
	return e.Message
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

func deleteError(what string, err error) error {
	var msg string
	switch httpclient.StatusCode(err) {
	case http.StatusNotFound:
		msg = fmt.Sprintf("%s不存在或已被删除", what)
	case http.StatusBadRequest:
		msg = fmt.Sprintf("无法删除%s：存在关联数据或请求无效", what)
	case http.StatusInternalServerError:
		msg = fmt.Sprintf("服务器错误，删除%s失败，请稍后重试", what)
	default:
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	return &DeleteError{Message: msg, Err: err}
}

func (s *Service) DeleteUnifiedTestCase(ctx context.Context, id int64) error {
	if id <= 0 {
		return errs.Invalid("id", "must be a positive integer")
	}
	if err := s.http.Do(ctx, http.MethodDelete, endpoint("unified-test-cases", idPart(id)), nil, nil, nil); err != nil {
		return deleteError("测试用例", err)
	}
	return nil
}

func (s *Service) BatchDeleteUnifiedTestCases(ctx context.Context, ids []int64) (*models.BatchResult, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errs.Invalid("ids", "no valid ids")
	}
	var res models.BatchResult
	body := map[string][]int64{"ids": ids}
	if err := s.http.Do(ctx, http.MethodPost, endpoint("unified-test-cases", "batch-delete"), nil, body, &res); err != nil {
		return nil, deleteError("测试用例", err)
	}
	return &res, nil
}

func (s *Service) BatchUpdateStatus(ctx context.Context, ids []int64, status models.CaseStatus) (*models.BatchResult, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, errs.Invalid("ids", "no valid ids")
	}
	if !status.Valid() {
		return nil, errs.Invalid("status", "unknown status %q", status)
	}
	var res models.BatchResult
	body := map[string]any{"ids": ids, "status": status}
	if err := s.http.Do(ctx, http.MethodPost, endpoint("unified-test-cases", "batch-update-status"), nil, body, &res); err != nil {
		return nil, fmt.Errorf("failed to batch update status: %w", err)
	}
	return &res, nil
}

func (s *Service) GetStatistics(ctx context.Context, projectID int64, businessType string) (*models.Statistics, error) {
	q := newQuery().id("project_id", projectID).str("business_type", businessType, 50)
	var stats models.Statistics
	if err := s.http.Do(ctx, http.MethodGet, endpoint("unified-test-cases", "statistics", "overview"), q.values(), nil, &stats); err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &stats, nil
}
