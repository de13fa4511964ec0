package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ldi/casegen/pkg/models"
)

// RecordTask stores a finished task. Tasks still in flight are not recorded;
// the backend remains their source of truth.
func (db *DB) RecordTask(ctx context.Context, t *models.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if !t.IsTerminal() {
		return fmt.Errorf("task %s is not finished (status %s)", t.ID, t.Status)
	}
	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = t.CreatedAt
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO task_history (
			task_id, task_type, business_type, project_id, status, progress,
			message, error, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			message = excluded.message,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		t.ID, t.Type, t.BusinessType, t.ProjectID, t.Status, t.Progress,
		t.Message, t.Error, t.CreatedAt, updatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", t.ID, err)
	}
	db.triggerChange(ctx)
	return nil
}

// GetTask returns a recorded task, or nil when it was never recorded.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRowContext(ctx, taskSelect+` WHERE task_id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

const taskSelect = `
	SELECT task_id, task_type, business_type, project_id, status, progress,
	       message, error, created_at, updated_at, completed_at
	FROM task_history`

// ListTasks returns recorded tasks, newest first. Empty filters match everything.
func (db *DB) ListTasks(ctx context.Context, status models.TaskStatus, businessType string, limit int) ([]*models.Task, error) {
	query := taskSelect + ` WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if businessType != "" {
		query += ` AND business_type = ?`
		args = append(args, businessType)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PruneTasks keeps the newest keep records and deletes the rest.
func (db *DB) PruneTasks(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM task_history WHERE task_id NOT IN (
			SELECT task_id FROM task_history ORDER BY updated_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.triggerChange(ctx)
	}
	return n, nil
}

func scanTask(s scanner) (*models.Task, error) {
	t := &models.Task{}
	var projectID sql.NullInt64
	if err := s.Scan(
		&t.ID, &t.Type, &t.BusinessType, &projectID, &t.Status, &t.Progress,
		&t.Message, &t.Error, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if projectID.Valid {
		id := projectID.Int64
		t.ProjectID = &id
	}
	return t, nil
}
