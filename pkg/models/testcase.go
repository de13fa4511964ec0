package models

import (
	"fmt"
	"time"
)

type Stage string

const (
	StageTestPoint Stage = "test_point"
	StageTestCase  Stage = "test_case"
)

type CaseStatus string

const (
	CaseStatusDraft     CaseStatus = "draft"
	CaseStatusApproved  CaseStatus = "approved"
	CaseStatusCompleted CaseStatus = "completed"
)

func (s CaseStatus) Valid() bool {
	return s == CaseStatusDraft || s == CaseStatusApproved || s == CaseStatusCompleted
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type TestStep struct {
	StepNumber int    `json:"step_number"`
	Action     string `json:"action"`
	Expected   string `json:"expected"`
}

// UnifiedTestCase is a test point or a test case, discriminated by Stage.
type UnifiedTestCase struct {
	ID             int64      `json:"id,omitempty"`
	ProjectID      int64      `json:"project_id"`
	BusinessType   string     `json:"business_type"`
	CaseID         string     `json:"case_id,omitempty"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Stage          Stage      `json:"stage"`
	Status         CaseStatus `json:"status"`
	Priority       Priority   `json:"priority,omitempty"`
	TestPointID    *int64     `json:"test_point_id,omitempty"`
	TestPointIDs   []int64    `json:"test_point_ids,omitempty"`
	Preconditions  string     `json:"preconditions,omitempty"`
	Steps          []TestStep `json:"steps,omitempty"`
	ExpectedResult string     `json:"expected_result,omitempty"`
	Remarks        string     `json:"remarks,omitempty"`
	EntityOrder    *float64   `json:"entity_order,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at,omitempty"`
}

// SourcePointIDs returns every test point the record was generated from.
func (c *UnifiedTestCase) SourcePointIDs() []int64 {
	ids := make([]int64, 0, len(c.TestPointIDs)+1)
	seen := make(map[int64]bool)
	if c.TestPointID != nil && *c.TestPointID > 0 {
		ids = append(ids, *c.TestPointID)
		seen[*c.TestPointID] = true
	}
	for _, id := range c.TestPointIDs {
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate checks the record before it is sent to the backend.
func (c *UnifiedTestCase) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.BusinessType == "" {
		return fmt.Errorf("business_type is required")
	}
	switch c.Stage {
	case StageTestPoint:
	case StageTestCase:
		if len(c.SourcePointIDs()) == 0 {
			return fmt.Errorf("test case %q must reference at least one test point", c.Name)
		}
	default:
		return fmt.Errorf("invalid stage: %q", c.Stage)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("invalid status: %q", c.Status)
	}
	return nil
}

// CaseFilter narrows unified test case listings.
type CaseFilter struct {
	ProjectID    int64
	BusinessType string
	Stage        Stage
	Status       CaseStatus
	Priority     Priority
	Keyword      string
	TestPointIDs []int64
	Page         int
	Size         int
}

type Statistics struct {
	TotalCount     int            `json:"total_count"`
	TestPointCount int            `json:"test_point_count"`
	TestCaseCount  int            `json:"test_case_count"`
	ByStatus       map[string]int `json:"by_status"`
	ByBusinessType map[string]int `json:"by_business_type"`
}

// BatchResult is the backend's reply to batch mutations.
type BatchResult struct {
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	FailedIDs    []int64  `json:"failed_ids,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}
