package session

import (
	"context"
	"sync"
	"time"

	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

// TaskRecorder keeps finished tasks; *db.DB implements it.
type TaskRecorder interface {
	RecordTask(ctx context.Context, t *models.Task) error
}

// TaskContext follows tasks through the tracker and polls each one until it finishes.
type TaskContext struct {
	tracker  *tracker.Tracker
	poller   tracker.Poller
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
	recorder TaskRecorder
	unlisten func()
}

func NewTaskContext(tr *tracker.Tracker, poller tracker.Poller, interval time.Duration, logger *zap.Logger) *TaskContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	tc := &TaskContext{
		tracker:  tr,
		poller:   poller,
		interval: interval,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
	tc.unlisten = tr.Listen(tc.onUpdate)
	return tc
}

// SetRecorder stores every task that finishes from now on.
func (tc *TaskContext) SetRecorder(r TaskRecorder) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.recorder = r
}

func (tc *TaskContext) onUpdate(task models.Task, _ tracker.Source) {
	if !task.IsTerminal() {
		return
	}
	tc.mu.Lock()
	r := tc.recorder
	tc.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.RecordTask(context.Background(), &task); err != nil {
		tc.logger.Warn("failed to record task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Track registers the task and starts polling it. Tracking an already
// tracked task only applies the new state.
func (tc *TaskContext) Track(ctx context.Context, task models.Task) {
	tc.tracker.Apply(task, tracker.SourceLocal)
	if task.IsTerminal() {
		return
	}

	tc.mu.Lock()
	if _, ok := tc.cancels[task.ID]; ok {
		tc.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	tc.cancels[task.ID] = cancel
	tc.wg.Add(1)
	tc.mu.Unlock()

	go func() {
		defer tc.wg.Done()
		defer tc.Stop(task.ID)
		if err := tc.tracker.Poll(pollCtx, tc.poller, task.ID, tc.interval); err != nil && pollCtx.Err() == nil {
			tc.logger.Warn("polling stopped", zap.String("task_id", task.ID), zap.Error(err))
		}
	}()
}

// Stop ends polling for the task; its last known state stays available.
func (tc *TaskContext) Stop(taskID string) {
	tc.mu.Lock()
	cancel, ok := tc.cancels[taskID]
	delete(tc.cancels, taskID)
	tc.mu.Unlock()
	if ok {
		cancel()
	}
}

func (tc *TaskContext) Polling() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.cancels)
}

func (tc *TaskContext) Get(taskID string) (models.Task, bool) {
	return tc.tracker.Get(taskID)
}

func (tc *TaskContext) Tasks() []models.Task {
	return tc.tracker.Snapshot()
}

func (tc *TaskContext) Wait(ctx context.Context, taskID string) (models.Task, error) {
	return tc.tracker.Wait(ctx, taskID)
}

// Close stops all polling and waits for the pollers to exit.
func (tc *TaskContext) Close() {
	tc.mu.Lock()
	for id, cancel := range tc.cancels {
		cancel()
		delete(tc.cancels, id)
	}
	tc.mu.Unlock()
	tc.wg.Wait()
	tc.unlisten()
}
