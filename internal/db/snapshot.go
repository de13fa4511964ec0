package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ldi/casegen/pkg/models"
)

const snapshotVersion = 1

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type contextRecord struct {
	RecordType string `json:"record_type"`
	models.HistoryContext
}

type variableRecord struct {
	RecordType string `json:"record_type"`
	models.TemplateVariable
}

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation.
func (db *DB) EnableAutoSnapshot(path string) {
	db.SetOnChange(func(ctx context.Context) {
		// Best effort: the write that triggered the hook already succeeded.
		_ = db.ExportSnapshot(ctx, path)
	})
}

// ExportSnapshot writes contexts and variables as JSONL. The file is replaced
// atomically so a crash never leaves a half-written snapshot behind.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	contexts, err := db.ListContexts(ctx, "")
	if err != nil {
		return err
	}
	vars, err := db.ListVariables(ctx)
	if err != nil {
		return err
	}

	return replaceFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(snapshotMeta{RecordType: "meta", Version: snapshotVersion, ExportedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("failed to write snapshot meta: %w", err)
		}
		for _, c := range contexts {
			if err := enc.Encode(contextRecord{RecordType: "context", HistoryContext: *c}); err != nil {
				return fmt.Errorf("failed to write context %s: %w", c.Name, err)
			}
		}
		for _, v := range vars {
			if err := enc.Encode(variableRecord{RecordType: "variable", TemplateVariable: v}); err != nil {
				return fmt.Errorf("failed to write variable %s: %w", v.Name, err)
			}
		}
		return nil
	})
}

// replaceFile writes through a sibling temp file and renames it over path.
func replaceFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// ImportSnapshot merges a JSONL snapshot into the store inside one transaction.
// Records are matched by name: existing ones are updated, new ones inserted.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
			Version    int    `json:"version"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return fmt.Errorf("line %d: failed to unmarshal record: %w", lineNo, err)
		}

		switch base.RecordType {
		case "meta":
			if base.Version > snapshotVersion {
				return fmt.Errorf("snapshot version %d is newer than supported version %d", base.Version, snapshotVersion)
			}
		case "context":
			var rec contextRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal context: %w", lineNo, err)
			}
			c := rec.HistoryContext
			existing, err := db.getContext(ctx, tx, `WHERE name = ?`, c.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				_, err = tx.ExecContext(ctx, `
					UPDATE history_contexts SET content = ?, business_type = ?, updated_at = ?
					WHERE id = ?`,
					c.Content, c.BusinessType, c.UpdatedAt, existing.ID)
				if err != nil {
					return fmt.Errorf("failed to sync context %s: %w", c.Name, err)
				}
				continue
			}
			if err := db.createContext(ctx, tx, &c); err != nil {
				return err
			}
		case "variable":
			var rec variableRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal variable: %w", lineNo, err)
			}
			v := rec.TemplateVariable
			if _, err := tx.ExecContext(ctx, `DELETE FROM template_variables WHERE name = ?`, v.Name); err != nil {
				return fmt.Errorf("failed to replace variable %s: %w", v.Name, err)
			}
			if err := db.createVariable(ctx, tx, &v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: unknown record type %q", lineNo, base.RecordType)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}
