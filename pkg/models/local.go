package models

import "time"

// HistoryContext is a reusable text snippet used as additional generation context.
// It only lives in the local store.
type HistoryContext struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	BusinessType string    `json:"business_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type VariableType string

const (
	VariableText      VariableType = "text"
	VariableNumber    VariableType = "number"
	VariableSelect    VariableType = "select"
	VariableMultiline VariableType = "multiline"
)

type TemplateVariable struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	DefaultValue string       `json:"default_value,omitempty"`
	Description  string       `json:"description,omitempty"`
	Options      []string     `json:"options,omitempty"`
	Required     bool         `json:"required"`
}
