package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ldi/casegen/internal/api"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/wsclient"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Generator is the part of the backend the orchestrator drives.
type Generator interface {
	GenerateTestPoints(ctx context.Context, businessType string, projectID int64, additionalContext string) (*models.GenerationResult, error)
	GenerateTestCasesFromPoints(ctx context.Context, businessType string, projectID int64, pointIDs []int64, additionalContext string) (*models.GenerationResult, error)
	ListTestPoints(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error)
	GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error)
}

// Subscriber delivers pushed task updates. *wsclient.Client implements it.
type Subscriber interface {
	SubscribeToTask(taskID string, handler wsclient.TaskHandler) func()
}

// Stage names a generation step as shown to the user.
type Stage string

const (
	StagePoints Stage = "test_points"
	StageCases  Stage = "test_cases"
)

func (s Stage) Label() string {
	if s == StageCases {
		return "测试用例"
	}
	return "测试点"
}

// Messages sent to the TUI.
type (
	WorkerStartedMsg struct {
		WorkerID     int
		BusinessType string
		Stage        Stage
	}
	TaskStartedMsg struct {
		WorkerID int
		TaskID   string
	}
	ProgressMsg struct {
		WorkerID int
		Task     models.Task
	}
	OutputMsg struct {
		WorkerID int
		Output   string
	}
	TaskCompletedMsg struct {
		WorkerID     int
		BusinessType string
		Stage        Stage
		Task         models.Task
		Success      bool
		Err          error
	}
	BatchDoneMsg struct {
		Succeeded int
		Failed    int
	}
)

type Options struct {
	MaxWorkers   int
	PollInterval time.Duration
	// Retry applies to generation triggers only. Task watching has its own
	// fallback through polling.
	Retry      errs.RetryOptions
	Handler    *errs.Handler
	Subscriber Subscriber
}

// Orchestrator runs generation jobs against the backend and reports their
// progress as tea messages. An Orchestrator runs a single job; its message
// channel is closed when the job returns.
type Orchestrator struct {
	gen          Generator
	ws           Subscriber
	tracker      *tracker.Tracker
	logger       *zap.Logger
	handler      *errs.Handler
	retry        errs.RetryOptions
	maxWorkers   int
	pollInterval time.Duration

	mu        sync.Mutex
	slots     map[int]string
	total     int
	completed int
	failed    int

	chanMu  sync.RWMutex
	msgChan chan tea.Msg
	closed  bool
}

func NewOrchestrator(gen Generator, tr *tracker.Tracker, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Retry.Context == "" {
		opts.Retry.Context = "生成任务"
	}
	return &Orchestrator{
		gen:          gen,
		ws:           opts.Subscriber,
		tracker:      tr,
		logger:       logger,
		handler:      opts.Handler,
		retry:        opts.Retry,
		maxWorkers:   opts.MaxWorkers,
		pollInterval: opts.PollInterval,
		slots:        make(map[int]string),
		msgChan:      make(chan tea.Msg, 100),
	}
}

// Messages returns the channel for TUI updates.
func (o *Orchestrator) Messages() <-chan tea.Msg {
	return o.msgChan
}

func (o *Orchestrator) MaxWorkers() int {
	return o.maxWorkers
}

// GetStats returns the number of items scheduled, finished successfully and failed.
func (o *Orchestrator) GetStats() (total, completed, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total, o.completed, o.failed
}

// ActiveWorkers returns the business type held by each busy worker slot.
func (o *Orchestrator) ActiveWorkers() map[int]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[int]string, len(o.slots))
	for k, v := range o.slots {
		out[k] = v
	}
	return out
}

// sendMsg drops msg when nobody reads within 100ms. Listeners may still fire
// after a job returns, so sends after finish are dropped too.
func (o *Orchestrator) sendMsg(msg tea.Msg) {
	o.chanMu.RLock()
	defer o.chanMu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.msgChan <- msg:
	case <-time.After(100 * time.Millisecond):
	}
}

func (o *Orchestrator) finish() {
	o.chanMu.Lock()
	defer o.chanMu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.msgChan)
	}
}

func (o *Orchestrator) acquireSlot(businessType string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := 1; ; id++ {
		if _, busy := o.slots[id]; !busy {
			o.slots[id] = businessType
			return id
		}
	}
}

func (o *Orchestrator) releaseSlot(id int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.slots, id)
	if err != nil {
		o.failed++
	} else {
		o.completed++
	}
}

// BatchRequest generates one stage for several business types.
type BatchRequest struct {
	ProjectID         int64
	BusinessTypes     []string
	Mode              models.GenerationMode
	PointIDs          []int64
	AdditionalContext string
}

// RunBatch fans the business types out over at most MaxWorkers concurrent
// generations and waits for every task to finish. Failures are reported per
// item; the returned error is non-nil only when ctx ended.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest) ([]ItemResult[models.Task], error) {
	defer o.finish()
	defer o.sendDone()

	if !req.Mode.Valid() {
		return nil, errs.Invalid("generation_mode", "无效的生成模式: %s", req.Mode)
	}
	if req.Mode == models.ModeTestCasesOnly && len(req.PointIDs) == 0 {
		return nil, errs.Invalid("test_point_ids", "生成测试用例需要至少一个测试点")
	}

	o.mu.Lock()
	o.total += len(req.BusinessTypes)
	o.mu.Unlock()

	stage := StagePoints
	if req.Mode == models.ModeTestCasesOnly {
		stage = StageCases
	}

	results := make([]ItemResult[models.Task], len(req.BusinessTypes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxWorkers)

	for i, bt := range req.BusinessTypes {
		g.Go(func() error {
			trigger := func(ctx context.Context) (*models.GenerationResult, error) {
				if stage == StageCases {
					return o.gen.GenerateTestCasesFromPoints(ctx, bt, req.ProjectID, req.PointIDs, req.AdditionalContext)
				}
				return o.gen.GenerateTestPoints(ctx, bt, req.ProjectID, req.AdditionalContext)
			}
			task, err := o.runItem(gctx, bt, stage, trigger)
			results[i] = ItemResult[models.Task]{Item: bt, Result: task, Err: err}
			// Item failures are collected, not propagated, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// TwoStageResult holds both tasks of a two-stage run. CasesTask is zero when
// the first stage failed.
type TwoStageResult struct {
	PointsTask models.Task
	PointIDs   []int64
	CasesTask  models.Task
}

// RunTwoStage generates test points for a business type, waits for them,
// then generates test cases from the resulting points.
func (o *Orchestrator) RunTwoStage(ctx context.Context, businessType string, projectID int64, additionalContext string) (*TwoStageResult, error) {
	defer o.finish()
	defer o.sendDone()

	o.mu.Lock()
	o.total += 2
	o.mu.Unlock()

	res := &TwoStageResult{}
	started := time.Now()
	task, err := o.runItem(ctx, businessType, StagePoints, func(ctx context.Context) (*models.GenerationResult, error) {
		return o.gen.GenerateTestPoints(ctx, businessType, projectID, additionalContext)
	})
	res.PointsTask = task
	if err != nil {
		o.recordSkipped()
		return res, fmt.Errorf("failed to generate test points: %w", err)
	}

	res.PointIDs, err = o.generatedPoints(ctx, task, businessType, projectID, started)
	if err != nil {
		o.recordSkipped()
		return res, err
	}
	if len(res.PointIDs) == 0 {
		o.recordSkipped()
		return res, errors.New("no test points were generated")
	}

	task, err = o.runItem(ctx, businessType, StageCases, func(ctx context.Context) (*models.GenerationResult, error) {
		return o.gen.GenerateTestCasesFromPoints(ctx, businessType, projectID, res.PointIDs, additionalContext)
	})
	res.CasesTask = task
	if err != nil {
		return res, fmt.Errorf("failed to generate test cases: %w", err)
	}
	return res, nil
}

// generatedPoints returns the ids of the points task produced. The ids named
// in the task result win; otherwise every page of the business type's points
// is read and only those created since the task started are kept.
func (o *Orchestrator) generatedPoints(ctx context.Context, task models.Task, businessType string, projectID int64, since time.Time) ([]int64, error) {
	if ids := task.ResultPointIDs(); len(ids) > 0 {
		return ids, nil
	}
	if !task.CreatedAt.IsZero() {
		since = task.CreatedAt
	}

	var ids []int64
	for page := 1; ; page++ {
		p, err := o.gen.ListTestPoints(ctx, models.CaseFilter{
			ProjectID:    projectID,
			BusinessType: businessType,
			Page:         page,
			Size:         api.MaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list test points: %w", err)
		}
		for _, pt := range p.Items {
			if !pt.CreatedAt.Before(since) {
				ids = append(ids, pt.ID)
			}
		}
		if len(p.Items) == 0 || page >= p.Pages {
			return ids, nil
		}
	}
}

// recordSkipped counts the second stage of a two-stage run as failed when
// the first stage never let it start.
func (o *Orchestrator) recordSkipped() {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

func (o *Orchestrator) sendDone() {
	_, completed, failed := o.GetStats()
	o.sendMsg(BatchDoneMsg{Succeeded: completed, Failed: failed})
}

func (o *Orchestrator) runItem(ctx context.Context, businessType string, stage Stage, trigger func(context.Context) (*models.GenerationResult, error)) (task models.Task, err error) {
	workerID := o.acquireSlot(businessType)
	defer func() {
		o.releaseSlot(workerID, err)
		o.sendMsg(TaskCompletedMsg{
			WorkerID:     workerID,
			BusinessType: businessType,
			Stage:        stage,
			Task:         task,
			Success:      err == nil,
			Err:          err,
		})
	}()

	o.sendMsg(WorkerStartedMsg{WorkerID: workerID, BusinessType: businessType, Stage: stage})
	o.logger.Info("generation started",
		zap.Int("worker", workerID),
		zap.String("business_type", businessType),
		zap.String("stage", string(stage)))

	retry := o.retry
	retry.OnRetry = func(attempt, attempts int, err error) {
		o.sendMsg(OutputMsg{WorkerID: workerID, Output: fmt.Sprintf("请求失败，正在重试 (%d/%d): %s", attempt, attempts-1, errs.Translate(err))})
	}
	retry.Silent = true

	gen, err := errs.Retry(ctx, o.handler, retry, trigger)
	if err != nil {
		o.logger.Warn("generation trigger failed", zap.String("business_type", businessType), zap.Error(err))
		return models.Task{}, err
	}

	o.sendMsg(TaskStartedMsg{WorkerID: workerID, TaskID: gen.TaskID})
	if gen.Message != "" {
		o.sendMsg(OutputMsg{WorkerID: workerID, Output: gen.Message})
	}

	return o.watch(ctx, workerID, gen)
}

// watch follows a task through pushed updates and polling until it is
// terminal. A task that ends in any status but completed is an error.
func (o *Orchestrator) watch(ctx context.Context, workerID int, gen *models.GenerationResult) (models.Task, error) {
	id := gen.TaskID
	o.tracker.Apply(models.Task{
		ID:           id,
		Status:       gen.Status,
		BusinessType: gen.BusinessType,
		Message:      gen.Message,
	}, tracker.SourceLocal)

	stopListen := o.tracker.Listen(func(task models.Task, _ tracker.Source) {
		if task.ID == id {
			o.sendMsg(ProgressMsg{WorkerID: workerID, Task: task})
		}
	})
	defer stopListen()

	if o.ws != nil {
		unsubscribe := o.ws.SubscribeToTask(id, o.tracker.HandleWS)
		defer unsubscribe()
	}

	pollCtx, cancel := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := o.tracker.Poll(pollCtx, o.gen, id, o.pollInterval); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Debug("task poll stopped", zap.String("task_id", id), zap.Error(err))
		}
	}()
	defer func() {
		cancel()
		<-pollDone
	}()

	task, err := o.tracker.Wait(ctx, id)
	if err != nil {
		return task, err
	}
	if task.Status != models.TaskStatusCompleted {
		reason := string(task.Status)
		if task.Error != nil && *task.Error != "" {
			reason = *task.Error
		}
		return task, fmt.Errorf("task %s %s: %s", id, task.Status, reason)
	}
	return task, nil
}
