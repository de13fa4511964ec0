package models

import "time"

type BusinessType struct {
	ID                  int64     `json:"id,omitempty"`
	Code                string    `json:"code"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	ProjectID           int64     `json:"project_id"`
	IsActive            bool      `json:"is_active"`
	PromptCombinationID *int64    `json:"prompt_combination_id,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

type BusinessTypeFilter struct {
	ProjectID int64
	IsActive  *bool
	Search    string
	Page      int
	Size      int
}
