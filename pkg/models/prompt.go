package models

import "time"

type PromptStatus string

const (
	PromptStatusDraft    PromptStatus = "draft"
	PromptStatusActive   PromptStatus = "active"
	PromptStatusArchived PromptStatus = "archived"
)

type Prompt struct {
	ID           int64        `json:"id,omitempty"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	BusinessType *string      `json:"business_type,omitempty"`
	Status       PromptStatus `json:"status"`
	Version      string       `json:"version,omitempty"`
	Content      string       `json:"content"`
	Variables    []string     `json:"variables,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
}

type PromptVersion struct {
	ID        int64     `json:"id"`
	PromptID  int64     `json:"prompt_id"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	ChangeLog string    `json:"change_log,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PromptCombination struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	BusinessType string  `json:"business_type"`
	PromptIDs    []int64 `json:"prompt_ids"`
	IsActive     bool    `json:"is_active"`
}

type PromptFilter struct {
	Type         string
	BusinessType string
	Status       PromptStatus
	Search       string
	Page         int
	Size         int
}

// VariablePreview is the backend's resolution of a template's variables.
type VariablePreview struct {
	Variables       map[string]string `json:"variables"`
	RenderedContent string            `json:"rendered_content"`
	Missing         []string          `json:"missing,omitempty"`
}
