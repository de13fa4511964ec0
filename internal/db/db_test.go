package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ldi/casegen/pkg/models"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "casegen.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	pragmas := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, want := range pragmas {
		var got string
		if err := db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s failed: %v", name, err)
		}
		if got != want {
			t.Errorf("PRAGMA %s = %s, want %s", name, got, want)
		}
	}
}

func TestMigrateIsSilent(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	calls := 0
	db.SetOnChange(func(context.Context) { calls++ })

	ctx := context.Background()
	if err := db.Migrate(ctx, `CREATE TABLE probe (id INTEGER PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO probe (v) VALUES ('ok')`); err != nil {
		t.Fatalf("table not created: %v", err)
	}
	if calls != 0 {
		t.Errorf("Migrate fired the change hook %d times", calls)
	}

	if err := db.Migrate(ctx, `CREATE TABLE broken (`); err == nil {
		t.Errorf("expected a syntax error to fail the migration")
	}
}

func TestInit(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, table := range []string{"settings", "history_contexts", "template_variables", "task_history"} {
		if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
			t.Fatalf("%s table does not exist or query failed: %v", table, err)
		}
	}

	// The schema is idempotent.
	if err := db.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}

	v, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != schemaVersion {
		t.Errorf("Expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestInitRefusesNewerSchema(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("Failed to set user_version: %v", err)
	}
	if err := db.Init(context.Background()); err == nil {
		t.Fatalf("Expected Init to refuse a newer schema")
	}
}

func TestSummarize(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateContext(ctx, &models.HistoryContext{Name: "a", Content: "x"}); err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	for _, task := range []models.Task{
		{ID: "t1", Status: models.TaskStatusCompleted},
		{ID: "t2", Status: models.TaskStatusFailed},
		{ID: "t3", Status: models.TaskStatusCompleted},
	} {
		task.CreatedAt = time.Now()
		task.UpdatedAt = task.CreatedAt
		if err := db.RecordTask(ctx, &task); err != nil {
			t.Fatalf("RecordTask failed: %v", err)
		}
	}

	s, err := db.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.Contexts != 1 || s.Variables != 0 {
		t.Errorf("Unexpected counts: %+v", s)
	}
	if s.Tasks[models.TaskStatusCompleted] != 2 || s.Tasks[models.TaskStatusFailed] != 1 || s.TaskTotal() != 3 {
		t.Errorf("Unexpected task counts: %v", s.Tasks)
	}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	return db
}
