package session

import (
	"context"
	"sync"

	"github.com/ldi/casegen/pkg/models"
)

type State int

const (
	StateLoading State = iota
	StateRender
	StateSelectProject
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRender:
		return "render"
	case StateSelectProject:
		return "select_project"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Decision struct {
	State   State
	Path    string
	Project *models.Project
	Err     error
}

// Guard decides whether a path may run. Protected paths need a selected
// project. A failed project lookup is final until Retry is called.
type Guard struct {
	projects *ProjectContext
	public   map[string]bool

	mu      sync.Mutex
	state   State
	lastErr error
}

func NewGuard(projects *ProjectContext, publicPaths ...string) *Guard {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Guard{projects: projects, public: public, state: StateLoading}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) IsPublic(path string) bool {
	return g.public[path]
}

func (g *Guard) Resolve(ctx context.Context, path string) Decision {
	g.mu.Lock()
	if g.state == StateError {
		err := g.lastErr
		g.mu.Unlock()
		return Decision{State: StateError, Path: path, Err: err}
	}
	g.state = StateLoading
	g.mu.Unlock()

	project, err := g.projects.Load(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = StateError
		g.lastErr = err
		return Decision{State: StateError, Path: path, Err: err}
	}
	switch {
	case project != nil:
		g.state = StateRender
	case g.public[path]:
		g.state = StateRender
	default:
		g.state = StateSelectProject
	}
	return Decision{State: g.state, Path: path, Project: project}
}

// Retry leaves the error state and resolves again.
func (g *Guard) Retry(ctx context.Context, path string) Decision {
	g.mu.Lock()
	g.state = StateLoading
	g.lastErr = nil
	g.mu.Unlock()
	return g.Resolve(ctx, path)
}

// Select records the chosen project and lets the path render.
func (g *Guard) Select(ctx context.Context, path string, project *models.Project) Decision {
	if err := g.projects.Select(ctx, project); err != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		return Decision{State: g.state, Path: path, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateRender
	g.lastErr = nil
	return Decision{State: StateRender, Path: path, Project: project}
}
