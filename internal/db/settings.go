package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

const currentProjectKey = "current_project_id"

func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	db.triggerChange(ctx)
	return nil
}

// CurrentProjectID returns 0 when no project has been selected.
func (db *DB) CurrentProjectID(ctx context.Context) (int64, error) {
	value, ok, err := db.GetSetting(ctx, currentProjectKey)
	if err != nil || !ok {
		return 0, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, nil
	}
	return id, nil
}

// SetCurrentProjectID stores the selection; id <= 0 clears it.
func (db *DB) SetCurrentProjectID(ctx context.Context, id int64) error {
	if id <= 0 {
		return db.DeleteSetting(ctx, currentProjectKey)
	}
	return db.SetSetting(ctx, currentProjectKey, strconv.FormatInt(id, 10))
}
