// Package prompt renders {{variable}} templates locally so a prompt can be
// checked before the backend sees it.
package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ldi/casegen/pkg/models"
)

var (
	varPattern  = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)
	namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// Extract returns variable names in order of first appearance.
func Extract(content string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range varPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Result is a rendered template. Unresolved placeholders are left in Content.
type Result struct {
	Content    string
	Used       []string
	Missing    []string
	Unresolved []string
}

// Render substitutes values, falling back to each variable's default. Required
// variables with neither end up in Missing; unknown placeholders without a value
// end up in Unresolved.
func Render(content string, values map[string]string, vars []models.TemplateVariable) Result {
	defs := make(map[string]models.TemplateVariable, len(vars))
	for _, v := range vars {
		defs[v.Name] = v
	}

	var res Result
	for _, name := range Extract(content) {
		if _, ok := lookup(name, values, defs); ok {
			res.Used = append(res.Used, name)
			continue
		}
		if def, known := defs[name]; known && def.Required {
			res.Missing = append(res.Missing, name)
		} else {
			res.Unresolved = append(res.Unresolved, name)
		}
	}

	res.Content = varPattern.ReplaceAllStringFunc(content, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		if val, ok := lookup(name, values, defs); ok {
			return val
		}
		return m
	})
	return res
}

func lookup(name string, values map[string]string, defs map[string]models.TemplateVariable) (string, bool) {
	if val, ok := values[name]; ok {
		return val, true
	}
	if def, ok := defs[name]; ok && def.DefaultValue != "" {
		return def.DefaultValue, true
	}
	return "", false
}

// CheckValue validates a value against the variable's declared type.
func CheckValue(v models.TemplateVariable, value string) error {
	if value == "" {
		if v.Required && v.DefaultValue == "" {
			return fmt.Errorf("variable %s is required", v.Name)
		}
		return nil
	}
	switch v.Type {
	case models.VariableNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return fmt.Errorf("variable %s must be a number", v.Name)
		}
	case models.VariableSelect:
		for _, opt := range v.Options {
			if opt == value {
				return nil
			}
		}
		return fmt.Errorf("variable %s must be one of %s", v.Name, strings.Join(v.Options, ", "))
	case models.VariableText:
		if strings.Contains(value, "\n") {
			return fmt.Errorf("variable %s must be a single line", v.Name)
		}
	}
	return nil
}

// ValidateDefinition checks a variable before it is stored.
func ValidateDefinition(v models.TemplateVariable) error {
	if !namePattern.MatchString(v.Name) {
		return fmt.Errorf("invalid variable name %q", v.Name)
	}
	switch v.Type {
	case models.VariableText, models.VariableNumber, models.VariableMultiline:
	case models.VariableSelect:
		if len(v.Options) == 0 {
			return fmt.Errorf("select variable %s needs options", v.Name)
		}
	default:
		return fmt.Errorf("invalid variable type %q", v.Type)
	}
	if v.DefaultValue != "" {
		if err := CheckValue(v, v.DefaultValue); err != nil {
			return fmt.Errorf("invalid default: %w", err)
		}
	}
	return nil
}
