// Package tracker reconciles task state arriving from the websocket and from
// status polling into one view per task.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ldi/casegen/internal/metrics"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

type Source string

const (
	SourceWS    Source = "ws"
	SourcePoll  Source = "poll"
	SourceLocal Source = "local"
)

// Listener sees every accepted change, called outside the tracker lock.
type Listener func(task models.Task, src Source)

type listener struct {
	id int
	fn Listener
}

// Tracker is safe for concurrent use. For each task it keeps progress
// non-decreasing while the task runs, never leaves a terminal status, and
// drops updates stamped older than what it already holds.
type Tracker struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	listeners []listener
	nextID    int

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(logger *zap.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		tasks:   make(map[string]*models.Task),
		logger:  logger,
		metrics: m,
	}
}

func rank(s models.TaskStatus) int {
	switch s {
	case models.TaskStatusPending:
		return 1
	case models.TaskStatusRunning:
		return 2
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return 3
	}
	return 0
}

// Apply merges an update and reports the resulting state and whether anything changed.
func (t *Tracker) Apply(update models.Task, src Source) (models.Task, bool) {
	if update.ID == "" {
		return models.Task{}, false
	}

	t.mu.Lock()
	cur, known := t.tasks[update.ID]
	if !known {
		task := update
		normalizeNew(&task)
		t.tasks[task.ID] = &task
		out := task
		listeners := t.snapshotListeners()
		t.mu.Unlock()

		if out.IsTerminal() {
			t.metrics.ObserveTaskFinished(string(out.Status))
		}
		t.notify(listeners, out, src)
		return out, true
	}

	next, changed := merge(*cur, update)
	if !changed {
		t.mu.Unlock()
		t.logger.Debug("task update ignored",
			zap.String("task_id", update.ID),
			zap.String("source", string(src)),
			zap.String("status", string(update.Status)),
			zap.Int("progress", update.Progress),
		)
		return *cur, false
	}
	finished := !cur.IsTerminal() && next.IsTerminal()
	*cur = next
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	if finished {
		t.metrics.ObserveTaskFinished(string(next.Status))
	}
	t.notify(listeners, next, src)
	return next, true
}

func normalizeNew(task *models.Task) {
	if !task.Status.Valid() {
		task.Status = models.TaskStatusPending
	}
	task.Progress = clamp(task.Progress)
	if task.Status == models.TaskStatusCompleted {
		task.Progress = 100
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func merge(cur, upd models.Task) (models.Task, bool) {
	if cur.IsTerminal() {
		return cur, false
	}
	terminal := upd.Status.IsTerminal()
	if !terminal && !cur.UpdatedAt.IsZero() && !upd.UpdatedAt.IsZero() && upd.UpdatedAt.Before(cur.UpdatedAt) {
		return cur, false
	}

	next := cur
	if upd.Status.Valid() && rank(upd.Status) >= rank(cur.Status) {
		next.Status = upd.Status
	}
	if p := clamp(upd.Progress); p > next.Progress {
		next.Progress = p
	}
	if next.Status == models.TaskStatusCompleted {
		next.Progress = 100
	}
	if upd.Message != "" {
		next.Message = upd.Message
	}
	if upd.Error != nil {
		next.Error = upd.Error
	}
	if len(upd.Result) > 0 {
		next.Result = upd.Result
	}
	if upd.Type != "" {
		next.Type = upd.Type
	}
	if upd.BusinessType != "" {
		next.BusinessType = upd.BusinessType
	}
	if upd.ProjectID != nil {
		next.ProjectID = upd.ProjectID
	}
	if upd.StartedAt != nil {
		next.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		next.CompletedAt = upd.CompletedAt
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = upd.CreatedAt
	}
	if upd.UpdatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = upd.UpdatedAt
	}
	return next, !sameState(cur, next)
}

func sameState(a, b models.Task) bool {
	return a.Status == b.Status &&
		a.Progress == b.Progress &&
		a.Message == b.Message &&
		errorText(a) == errorText(b) &&
		string(a.Result) == string(b.Result) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func errorText(t models.Task) string {
	if t.Error == nil {
		return ""
	}
	return *t.Error
}

// HandleWS feeds task_update and initial_status frames; other frames are ignored.
// It has the shape of a wsclient task handler.
func (t *Tracker) HandleWS(msg models.WSMessage) {
	switch msg.Type {
	case models.WSTaskUpdate, models.WSInitialStatus:
	default:
		return
	}
	upd, err := msg.TaskUpdate()
	if err != nil {
		t.logger.Warn("malformed task update", zap.String("task_id", msg.TaskID), zap.Error(err))
		return
	}
	t.Apply(*upd, SourceWS)
}

func (t *Tracker) Get(id string) (models.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return *task, true
}

// Snapshot returns all tracked tasks, oldest first.
func (t *Tracker) Snapshot() []models.Task {
	t.mu.Lock()
	out := make([]models.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the ids of tasks that have not finished.
func (t *Tracker) Active() []string {
	var ids []string
	for _, task := range t.Snapshot() {
		if !task.IsTerminal() {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, id)
}

// Listen registers fn and returns a function removing it.
func (t *Tracker) Listen(fn Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, l := range t.listeners {
				if l.id == id {
					t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *Tracker) snapshotListeners() []Listener {
	fns := make([]Listener, len(t.listeners))
	for i, l := range t.listeners {
		fns[i] = l.fn
	}
	return fns
}

func (t *Tracker) notify(listeners []Listener, task models.Task, src Source) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("task listener panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
				}
			}()
			fn(task, src)
		}()
	}
}

// Wait blocks until the task reaches a terminal status or ctx ends.
func (t *Tracker) Wait(ctx context.Context, id string) (models.Task, error) {
	done := make(chan models.Task, 1)
	stop := t.Listen(func(task models.Task, _ Source) {
		if task.ID == id && task.IsTerminal() {
			select {
			case done <- task:
			default:
			}
		}
	})
	defer stop()

	if task, ok := t.Get(id); ok && task.IsTerminal() {
		return task, nil
	}

	select {
	case task := <-done:
		return task, nil
	case <-ctx.Done():
		return models.Task{}, fmt.Errorf("failed waiting for task %s: %w", id, ctx.Err())
	}
}

// Poller is the status lookup used as the fallback path.
type Poller interface {
	GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error)
}

// Poll fetches the task status every interval until it is terminal or ctx
// ends. Fetch errors are logged and polling continues.
func (t *Tracker) Poll(ctx context.Context, p Poller, id string, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if task, ok := t.Get(id); ok && task.IsTerminal() {
			return nil
		}

		task, err := p.GetTaskStatus(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("task poll failed", zap.String("task_id", id), zap.Error(err))
		} else {
			task.ID = id
			if merged, _ := t.Apply(*task, SourcePoll); merged.IsTerminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
