package models

import "encoding/json"

type GenerationMode string

const (
	ModeTestPointsOnly GenerationMode = "test_points_only"
	ModeTestCasesOnly  GenerationMode = "test_cases_only"
)

func (m GenerationMode) Valid() bool {
	return m == ModeTestPointsOnly || m == ModeTestCasesOnly
}

// GenerateRequest is the body of the unified generation endpoint.
type GenerateRequest struct {
	BusinessType      string         `json:"business_type"`
	ProjectID         int64          `json:"project_id"`
	GenerationMode    GenerationMode `json:"generation_mode"`
	TestPointIDs      []int64        `json:"test_point_ids,omitempty"`
	AdditionalContext string         `json:"additional_context,omitempty"`
}

// GenerationResult is the validated shape of a generation trigger response.
type GenerationResult struct {
	TaskID       string          `json:"task_id"`
	Status       TaskStatus      `json:"status"`
	Message      string          `json:"message,omitempty"`
	BusinessType string          `json:"business_type,omitempty"`
	Raw          json.RawMessage `json:"-"`
}
