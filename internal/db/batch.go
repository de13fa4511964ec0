package db

import (
	"context"
	"fmt"

	"github.com/ldi/casegen/pkg/models"
)

// CaseCreator persists a test point or test case on the backend.
type CaseCreator interface {
	CreateUnifiedTestCase(ctx context.Context, tc *models.UnifiedTestCase) (*models.UnifiedTestCase, error)
}

// CommitResult lists what a commit created, in creation order.
type CommitResult struct {
	Created []*models.UnifiedTestCase
}

// CommitBatch sends a session's staged items to the backend: points first, then
// cases with their staged point names resolved to the new ids. The backend has
// no transaction across calls, so a failure stops the commit and the result
// reports what was already created.
func (db *DB) CommitBatch(ctx context.Context, sessionID string, creator CaseCreator) (*CommitResult, error) {
	items := db.Staging.GetAndClear(sessionID)
	res := &CommitResult{}

	pointIDs := make(map[string]int64)
	for _, p := range items.Points {
		created, err := creator.CreateUnifiedTestCase(ctx, &p.Case)
		if err != nil {
			return res, fmt.Errorf("failed to create staged test point %s: %w", p.Case.Name, err)
		}
		pointIDs[p.Case.Name] = created.ID
		res.Created = append(res.Created, created)
	}

	for _, c := range items.Cases {
		for _, name := range c.PointNames {
			id, ok := pointIDs[name]
			if !ok {
				return res, fmt.Errorf("test point %s not staged for test case %s", name, c.Case.Name)
			}
			c.Case.TestPointIDs = append(c.Case.TestPointIDs, id)
		}
		created, err := creator.CreateUnifiedTestCase(ctx, &c.Case)
		if err != nil {
			return res, fmt.Errorf("failed to create staged test case %s: %w", c.Case.Name, err)
		}
		res.Created = append(res.Created, created)
	}
	return res, nil
}
