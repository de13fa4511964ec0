package models

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further updates are expected for the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID           string          `json:"task_id"`
	Type         string          `json:"task_type,omitempty"`
	Status       TaskStatus      `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	BusinessType string          `json:"business_type,omitempty"`
	ProjectID    *int64          `json:"project_id,omitempty"`
	Error        *string         `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (t *Task) IsTerminal() bool {
	return t != nil && t.Status.IsTerminal()
}

// ResultPointIDs returns the test point ids a finished test point task lists
// in its result, or nil when the result names none.
func (t *Task) ResultPointIDs() []int64 {
	if t == nil || len(t.Result) == 0 {
		return nil
	}
	var r struct {
		TestPointIDs []int64 `json:"test_point_ids"`
	}
	if err := json.Unmarshal(t.Result, &r); err != nil {
		return nil
	}
	return r.TestPointIDs
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status       TaskStatus
	TaskType     string
	BusinessType string
	ProjectID    int64
	Page         int
	Size         int
}
