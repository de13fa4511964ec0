package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

func (s *Service) ListTasks(ctx context.Context, f models.TaskFilter) (*models.Page[models.Task], error) {
	q := newQuery().
		page(f.Page, f.Size).
		str("status", string(f.Status), 20).
		str("task_type", f.TaskType, 50).
		str("business_type", f.BusinessType, 50).
		id("project_id", f.ProjectID)
	var page models.Page[models.Task]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("tasks"), q.values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return &page, nil
}

func taskPart(taskID string) (string, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", errs.Invalid("task_id", "is required")
	}
	return url.PathEscape(taskID), nil
}

func (s *Service) GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	part, err := taskPart(taskID)
	if err != nil {
		return nil, err
	}
	var task models.Task
	if err := s.http.Do(ctx, http.MethodGet, endpoint("tasks", part), nil, nil, &task); err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	if task.ID == "" {
		task.ID = taskID
	}
	return &task, nil
}

func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	part, err := taskPart(taskID)
	if err != nil {
		return err
	}
	if err := s.http.Do(ctx, http.MethodPost, endpoint("tasks", part, "cancel"), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	return nil
}
