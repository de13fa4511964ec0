package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/casegen/pkg/models"
)

// CreateContext inserts a history context. If c.ID is empty a new UUID is generated.
func (db *DB) CreateContext(ctx context.Context, c *models.HistoryContext) error {
	if err := db.createContext(ctx, db.DB, c); err != nil {
		return err
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) createContext(ctx context.Context, exec executor, c *models.HistoryContext) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("context name is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("context content is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO history_contexts (id, name, content, business_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Content, c.BusinessType, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create context %s: %w", c.Name, err)
	}
	return nil
}

func (db *DB) GetContext(ctx context.Context, id string) (*models.HistoryContext, error) {
	return db.getContext(ctx, db.DB, `WHERE id = ?`, id)
}

func (db *DB) GetContextByName(ctx context.Context, name string) (*models.HistoryContext, error) {
	return db.getContext(ctx, db.DB, `WHERE name = ?`, name)
}

func (db *DB) getContext(ctx context.Context, exec executor, where string, arg any) (*models.HistoryContext, error) {
	c := &models.HistoryContext{}
	err := exec.QueryRowContext(ctx, `
		SELECT id, name, content, business_type, created_at, updated_at
		FROM history_contexts `+where, arg).Scan(
		&c.ID, &c.Name, &c.Content, &c.BusinessType, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return c, nil
}

// ListContexts returns contexts for a business type plus the ones shared by all
// business types; an empty businessType returns everything.
func (db *DB) ListContexts(ctx context.Context, businessType string) ([]*models.HistoryContext, error) {
	query := `SELECT id, name, content, business_type, created_at, updated_at FROM history_contexts`
	var args []any
	if businessType != "" {
		query += ` WHERE business_type = ? OR business_type = ''`
		args = append(args, businessType)
	}
	query += ` ORDER BY updated_at DESC, name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var out []*models.HistoryContext
	for rows.Next() {
		c := &models.HistoryContext{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Content, &c.BusinessType, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) UpdateContext(ctx context.Context, c *models.HistoryContext) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		UPDATE history_contexts SET name = ?, content = ?, business_type = ?, updated_at = ?
		WHERE id = ?`,
		strings.TrimSpace(c.Name), c.Content, c.BusinessType, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context not found: %s", c.ID)
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) DeleteContext(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM history_contexts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context not found: %s", id)
	}
	db.triggerChange(ctx)
	return nil
}
