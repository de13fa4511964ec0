package db

import (
	"context"
	"fmt"

	"github.com/ldi/casegen/embed/seeds"
)

// Seed inserts the embedded default contexts and variables that do not exist
// yet and returns how many were added.
func (db *DB) Seed(ctx context.Context) (int, error) {
	contexts, err := seeds.Contexts()
	if err != nil {
		return 0, err
	}
	vars, err := seeds.Variables()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for i := range contexts {
		existing, err := db.getContext(ctx, tx, `WHERE name = ?`, contexts[i].Name)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			continue
		}
		if err := db.createContext(ctx, tx, &contexts[i]); err != nil {
			return 0, err
		}
		added++
	}
	for i := range vars {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM template_variables WHERE name = ?`, vars[i].Name).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to check variable %s: %w", vars[i].Name, err)
		}
		if n > 0 {
			continue
		}
		if err := db.createVariable(ctx, tx, &vars[i]); err != nil {
			return 0, err
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		db.triggerChange(ctx)
	}
	return added, nil
}
