// Package session holds the state a command runs in: the selected project,
// the guard deciding whether a command may run without one, and the tasks
// being followed.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

// SelectionStore persists the selected project id.
type SelectionStore interface {
	CurrentProjectID(ctx context.Context) (int64, error)
	SetCurrentProjectID(ctx context.Context, id int64) error
}

type ProjectSource interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
}

// ProjectContext is the current project, shared by everything a command touches.
type ProjectContext struct {
	store  SelectionStore
	source ProjectSource
	logger *zap.Logger

	mu      sync.RWMutex
	current *models.Project
	loaded  bool
}

func NewProjectContext(store SelectionStore, source ProjectSource, logger *zap.Logger) *ProjectContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectContext{store: store, source: source, logger: logger}
}

// Load resolves the stored selection once. A stored project the backend no
// longer knows is cleared and reported as no selection.
func (p *ProjectContext) Load(ctx context.Context) (*models.Project, error) {
	p.mu.RLock()
	if p.loaded {
		cur := p.current
		p.mu.RUnlock()
		return cur, nil
	}
	p.mu.RUnlock()

	id, err := p.store.CurrentProjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read project selection: %w", err)
	}

	var project *models.Project
	if id > 0 {
		project, err = p.source.GetProject(ctx, id)
		if err != nil {
			if httpclient.StatusCode(err) != http.StatusNotFound {
				return nil, err
			}
			p.logger.Info("selected project no longer exists", zap.Int64("project_id", id))
			if err := p.store.SetCurrentProjectID(ctx, 0); err != nil {
				return nil, err
			}
			project = nil
		}
	}

	p.mu.Lock()
	p.current = project
	p.loaded = true
	p.mu.Unlock()
	return project, nil
}

// Current returns the selected project or nil. It does not load.
func (p *ProjectContext) Current() *models.Project {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// ID returns the selected project id, or 0.
func (p *ProjectContext) ID() int64 {
	if cur := p.Current(); cur != nil {
		return cur.ID
	}
	return 0
}

func (p *ProjectContext) Select(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID <= 0 {
		return fmt.Errorf("invalid project")
	}
	if err := p.store.SetCurrentProjectID(ctx, project.ID); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = project
	p.loaded = true
	p.mu.Unlock()
	p.logger.Debug("project selected", zap.Int64("project_id", project.ID), zap.String("name", project.Name))
	return nil
}

func (p *ProjectContext) Clear(ctx context.Context) error {
	if err := p.store.SetCurrentProjectID(ctx, 0); err != nil {
		return err
	}
	p.mu.Lock()
	p.current = nil
	p.loaded = true
	p.mu.Unlock()
	return nil
}
