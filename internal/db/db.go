package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	embedsql "github.com/ldi/casegen/embed/sql"
	"github.com/ldi/casegen/pkg/models"
	_ "modernc.org/sqlite"
)

// schemaVersion is kept in PRAGMA user_version.
const schemaVersion = 1

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is the local store: project selection, history contexts, template
// variables and the history of finished tasks. Business records stay on the backend.
type DB struct {
	*sql.DB
	Staging *StagingManager

	hookMu sync.RWMutex
	hook   ChangeHook
	muted  bool
}

// ChangeHook runs after every committed write to contexts, variables,
// settings or task history.
type ChangeHook func(ctx context.Context)

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the SQLite store at path, creating its directory.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and pragmas apply to every statement.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: conn, Staging: NewStagingManager()}, nil
}

func (db *DB) SetOnChange(fn ChangeHook) {
	db.hookMu.Lock()
	defer db.hookMu.Unlock()
	db.hook = fn
}

// Mute silences the change hook until the returned function is called.
func (db *DB) Mute() (unmute func()) {
	db.hookMu.Lock()
	db.muted = true
	db.hookMu.Unlock()
	return func() {
		db.hookMu.Lock()
		db.muted = false
		db.hookMu.Unlock()
	}
}

func (db *DB) triggerChange(ctx context.Context) {
	db.hookMu.RLock()
	fn, muted := db.hook, db.muted
	db.hookMu.RUnlock()
	if fn != nil && !muted {
		fn(ctx)
	}
}

func (db *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Init creates the tables and stamps the schema version. A store written by
// a newer build is refused rather than silently downgraded.
func (db *DB) Init(ctx context.Context) error {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if err := db.Migrate(ctx, embedsql.Schema); err != nil {
		return err
	}
	if version < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}

func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// Summary counts what the local store holds.
type Summary struct {
	Contexts  int
	Variables int
	Tasks     map[models.TaskStatus]int
}

func (s *Summary) TaskTotal() int {
	n := 0
	for _, c := range s.Tasks {
		n += c
	}
	return n
}

func (db *DB) Summarize(ctx context.Context) (*Summary, error) {
	s := &Summary{Tasks: make(map[models.TaskStatus]int)}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_contexts`).Scan(&s.Contexts); err != nil {
		return nil, fmt.Errorf("failed to count contexts: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM template_variables`).Scan(&s.Variables); err != nil {
		return nil, fmt.Errorf("failed to count variables: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		s.Tasks[status] = n
	}
	return s, rows.Err()
}
