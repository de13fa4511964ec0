package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/casegen/internal/prompt"
	"github.com/ldi/casegen/pkg/models"
)

func (db *DB) CreateVariable(ctx context.Context, v *models.TemplateVariable) error {
	if err := db.createVariable(ctx, db.DB, v); err != nil {
		return err
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) createVariable(ctx context.Context, exec executor, v *models.TemplateVariable) error {
	if err := prompt.ValidateDefinition(*v); err != nil {
		return err
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	options, err := json.Marshal(nonNil(v.Options))
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO template_variables (id, name, type, default_value, description, options, required)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Type, v.DefaultValue, v.Description, string(options), boolInt(v.Required))
	if err != nil {
		return fmt.Errorf("failed to create variable %s: %w", v.Name, err)
	}
	return nil
}

func (db *DB) UpdateVariable(ctx context.Context, v *models.TemplateVariable) error {
	if err := prompt.ValidateDefinition(*v); err != nil {
		return err
	}
	options, err := json.Marshal(nonNil(v.Options))
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE template_variables
		SET name = ?, type = ?, default_value = ?, description = ?, options = ?, required = ?
		WHERE id = ?`,
		v.Name, v.Type, v.DefaultValue, v.Description, string(options), boolInt(v.Required), v.ID)
	if err != nil {
		return fmt.Errorf("failed to update variable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("variable not found: %s", v.ID)
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) GetVariableByName(ctx context.Context, name string) (*models.TemplateVariable, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, type, default_value, description, options, required
		FROM template_variables WHERE name = ?`, name)
	v, err := scanVariable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (db *DB) ListVariables(ctx context.Context) ([]models.TemplateVariable, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, type, default_value, description, options, required
		FROM template_variables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	var out []models.TemplateVariable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (db *DB) DeleteVariable(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM template_variables WHERE id = ? OR name = ?`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("variable not found: %s", id)
	}
	db.triggerChange(ctx)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVariable(s scanner) (*models.TemplateVariable, error) {
	v := &models.TemplateVariable{}
	var options string
	var required int
	if err := s.Scan(&v.ID, &v.Name, &v.Type, &v.DefaultValue, &v.Description, &options, &required); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan variable: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &v.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options of %s: %w", v.Name, err)
	}
	if len(v.Options) == 0 {
		v.Options = nil
	}
	v.Required = required == 1
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
