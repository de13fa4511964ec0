// Package seeds holds the defaults written by `casegen init`.
package seeds

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ldi/casegen/pkg/models"
)

//go:embed contexts.yaml
var contextsYAML []byte

//go:embed variables.yaml
var variablesYAML []byte

type contextSeed struct {
	Name         string `yaml:"name"`
	Content      string `yaml:"content"`
	BusinessType string `yaml:"business_type"`
}

type variableSeed struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	DefaultValue string   `yaml:"default_value"`
	Description  string   `yaml:"description"`
	Options      []string `yaml:"options"`
	Required     bool     `yaml:"required"`
}

// Contexts returns the default history contexts without ids or timestamps.
func Contexts() ([]models.HistoryContext, error) {
	var raw []contextSeed
	if err := yaml.Unmarshal(contextsYAML, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse context seeds: %w", err)
	}
	out := make([]models.HistoryContext, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.HistoryContext{Name: r.Name, Content: r.Content, BusinessType: r.BusinessType})
	}
	return out, nil
}

func Variables() ([]models.TemplateVariable, error) {
	var raw []variableSeed
	if err := yaml.Unmarshal(variablesYAML, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse variable seeds: %w", err)
	}
	out := make([]models.TemplateVariable, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.TemplateVariable{
			Name:         r.Name,
			Type:         models.VariableType(r.Type),
			DefaultValue: r.DefaultValue,
			Description:  r.Description,
			Options:      r.Options,
			Required:     r.Required,
		})
	}
	return out, nil
}
