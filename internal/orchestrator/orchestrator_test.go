package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/wsclient"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

// mockGenerator hands out one task per trigger and reports each task as
// finalStatus on the first poll.
type mockGenerator struct {
	mu          sync.Mutex
	triggerErrs map[string][]error
	finalStatus map[string]models.TaskStatus
	points      []models.UnifiedTestCase
	pointsPages []int
	pointResult json.RawMessage
	triggers    []string
	casePoints  []int64
	inflight    int
	maxInflight int
	triggerWait time.Duration
	taskType    map[string]string
	neverFinish bool
}

func newMockGenerator() *mockGenerator {
	return &mockGenerator{
		triggerErrs: make(map[string][]error),
		finalStatus: make(map[string]models.TaskStatus),
		taskType:    make(map[string]string),
	}
}

func (m *mockGenerator) trigger(ctx context.Context, bt string, stage Stage) (*models.GenerationResult, error) {
	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	m.triggers = append(m.triggers, bt+"/"+string(stage))
	var err error
	if queue := m.triggerErrs[bt]; len(queue) > 0 {
		err = queue[0]
		m.triggerErrs[bt] = queue[1:]
	}
	id := fmt.Sprintf("task-%s-%s-%d", bt, stage, len(m.triggers))
	m.taskType[id] = bt
	wait := m.triggerWait
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &models.GenerationResult{TaskID: id, Status: models.TaskStatusPending, BusinessType: bt}, nil
}

func (m *mockGenerator) GenerateTestPoints(ctx context.Context, bt string, projectID int64, addCtx string) (*models.GenerationResult, error) {
	return m.trigger(ctx, bt, StagePoints)
}

func (m *mockGenerator) GenerateTestCasesFromPoints(ctx context.Context, bt string, projectID int64, pointIDs []int64, addCtx string) (*models.GenerationResult, error) {
	m.mu.Lock()
	m.casePoints = append([]int64(nil), pointIDs...)
	m.mu.Unlock()
	return m.trigger(ctx, bt, StageCases)
}

func (m *mockGenerator) ListTestPoints(ctx context.Context, f models.CaseFilter) (*models.Page[models.UnifiedTestCase], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointsPages = append(m.pointsPages, f.Page)
	size := f.Size
	if size <= 0 {
		size = 20
	}
	start := min(max(f.Page-1, 0)*size, len(m.points))
	end := min(start+size, len(m.points))
	return &models.Page[models.UnifiedTestCase]{
		Items: m.points[start:end],
		Total: len(m.points),
		Page:  f.Page,
		Size:  size,
		Pages: (len(m.points) + size - 1) / size,
	}, nil
}

func (m *mockGenerator) GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.neverFinish {
		return &models.Task{ID: taskID, Status: models.TaskStatusRunning, Progress: 10}, nil
	}
	status, ok := m.finalStatus[m.taskType[taskID]]
	if !ok {
		status = models.TaskStatusCompleted
	}
	task := &models.Task{ID: taskID, Status: status, Progress: 100}
	if strings.Contains(taskID, string(StagePoints)) {
		task.Result = m.pointResult
	}
	if status == models.TaskStatusFailed {
		msg := "模型调用失败"
		task.Error = &msg
	}
	return task, nil
}

func newTestOrchestrator(gen Generator, opts Options) *Orchestrator {
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return NewOrchestrator(gen, tracker.New(zap.NewNop(), nil), zap.NewNop(), opts)
}

// drain collects messages until the channel is closed.
func drain(o *Orchestrator) <-chan []tea.Msg {
	out := make(chan []tea.Msg, 1)
	go func() {
		var msgs []tea.Msg
		for msg := range o.Messages() {
			msgs = append(msgs, msg)
		}
		out <- msgs
	}()
	return out
}

func TestNewOrchestratorDefaults(t *testing.T) {
	o := NewOrchestrator(newMockGenerator(), tracker.New(nil, nil), nil, Options{})
	if o.MaxWorkers() != 1 {
		t.Errorf("expected 1 worker by default, got %d", o.MaxWorkers())
	}
	if o.pollInterval != 2*time.Second {
		t.Errorf("expected 2s poll interval, got %v", o.pollInterval)
	}
}

func TestRunBatch_PerItemResults(t *testing.T) {
	gen := newMockGenerator()
	gen.triggerErrs["TSP"] = []error{&errs.ValidationError{Field: "business_type", Message: "invalid"}}
	gen.finalStatus["PAY"] = models.TaskStatusFailed

	o := newTestOrchestrator(gen, Options{MaxWorkers: 2})
	msgs := drain(o)

	results, err := o.RunBatch(context.Background(), BatchRequest{
		ProjectID:     1,
		BusinessTypes: []string{"RCC", "TSP", "PAY"},
		Mode:          models.ModeTestPointsOnly,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil || results[0].Result.Status != models.TaskStatusCompleted {
		t.Errorf("expected RCC completed, got %+v", results[0])
	}
	var ve *errs.ValidationError
	if !errors.As(results[1].Err, &ve) {
		t.Errorf("expected validation error for TSP, got %v", results[1].Err)
	}
	if results[2].Err == nil || results[2].Result.Status != models.TaskStatusFailed {
		t.Errorf("expected PAY failed, got %+v", results[2])
	}

	total, completed, failed := o.GetStats()
	if total != 3 || completed != 1 || failed != 2 {
		t.Errorf("unexpected stats: total=%d completed=%d failed=%d", total, completed, failed)
	}

	all := <-msgs
	var started, finished int
	var done *BatchDoneMsg
	for _, msg := range all {
		switch m := msg.(type) {
		case WorkerStartedMsg:
			started++
		case TaskCompletedMsg:
			finished++
		case BatchDoneMsg:
			done = &m
		}
	}
	if started != 3 || finished != 3 {
		t.Errorf("expected 3 started and 3 completed messages, got %d and %d", started, finished)
	}
	if done == nil || done.Succeeded != 1 || done.Failed != 2 {
		t.Errorf("unexpected batch done message: %+v", done)
	}
}

func TestRunBatch_ConcurrencyLimit(t *testing.T) {
	gen := newMockGenerator()
	gen.triggerWait = 20 * time.Millisecond

	o := newTestOrchestrator(gen, Options{MaxWorkers: 2})
	msgs := drain(o)

	_, err := o.RunBatch(context.Background(), BatchRequest{
		ProjectID:     1,
		BusinessTypes: []string{"A", "B", "C", "D", "E"},
		Mode:          models.ModeTestPointsOnly,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	<-msgs

	if gen.maxInflight > 2 {
		t.Errorf("expected at most 2 concurrent generations, got %d", gen.maxInflight)
	}
	if len(gen.triggers) != 5 {
		t.Errorf("expected 5 triggers, got %d", len(gen.triggers))
	}
	if len(o.ActiveWorkers()) != 0 {
		t.Errorf("expected all worker slots released")
	}
}

func TestRunBatch_Validation(t *testing.T) {
	o := newTestOrchestrator(newMockGenerator(), Options{})
	msgs := drain(o)

	_, err := o.RunBatch(context.Background(), BatchRequest{
		BusinessTypes: []string{"RCC"},
		Mode:          models.ModeTestCasesOnly,
	})
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error without point ids, got %v", err)
	}
	<-msgs
}

func TestRunBatch_RetriesTrigger(t *testing.T) {
	gen := newMockGenerator()
	gen.triggerErrs["RCC"] = []error{&httpclient.APIError{StatusCode: 503, Message: "unavailable"}}

	o := newTestOrchestrator(gen, Options{Retry: errs.RetryOptions{Attempts: 2}})
	msgs := drain(o)

	results, err := o.RunBatch(context.Background(), BatchRequest{
		ProjectID:     1,
		BusinessTypes: []string{"RCC"},
		Mode:          models.ModeTestPointsOnly,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("expected retry to succeed, got %v", results[0].Err)
	}
	if len(gen.triggers) != 2 {
		t.Errorf("expected 2 trigger calls, got %d", len(gen.triggers))
	}

	sawRetry := false
	for _, msg := range <-msgs {
		if out, ok := msg.(OutputMsg); ok && out.WorkerID == 1 {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Errorf("expected a retry notice in the worker output")
	}
}

func TestRunBatch_Cancelled(t *testing.T) {
	gen := newMockGenerator()
	gen.neverFinish = true

	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results, err := o.RunBatch(ctx, BatchRequest{
		ProjectID:     1,
		BusinessTypes: []string{"RCC"},
		Mode:          models.ModeTestPointsOnly,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if results[0].Err == nil {
		t.Errorf("expected unfinished item to fail")
	}
	<-msgs
}

type fakeSubscriber struct {
	mu         sync.Mutex
	subscribed []string
}

func (f *fakeSubscriber) SubscribeToTask(taskID string, handler wsclient.TaskHandler) func() {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, taskID)
	f.mu.Unlock()

	go func() {
		data, _ := json.Marshal(models.Task{ID: taskID, Status: models.TaskStatusCompleted, Progress: 100, Message: "done"})
		handler(models.WSMessage{Type: models.WSTaskUpdate, TaskID: taskID, Data: data})
	}()
	return func() {}
}

func TestRunBatch_PushedUpdates(t *testing.T) {
	gen := newMockGenerator()
	gen.neverFinish = true
	sub := &fakeSubscriber{}

	o := newTestOrchestrator(gen, Options{Subscriber: sub, PollInterval: time.Hour})
	msgs := drain(o)

	results, err := o.RunBatch(context.Background(), BatchRequest{
		ProjectID:     1,
		BusinessTypes: []string{"RCC"},
		Mode:          models.ModeTestPointsOnly,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if results[0].Err != nil || results[0].Result.Message != "done" {
		t.Fatalf("expected pushed completion, got %+v", results[0])
	}
	if len(sub.subscribed) != 1 {
		t.Errorf("expected one subscription, got %v", sub.subscribed)
	}

	sawProgress := false
	for _, msg := range <-msgs {
		if p, ok := msg.(ProgressMsg); ok && p.Task.Progress == 100 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("expected a progress message for the pushed update")
	}
}

func TestRunTwoStage(t *testing.T) {
	gen := newMockGenerator()
	now := time.Now().Add(time.Minute)
	gen.points = []models.UnifiedTestCase{{ID: 7, Name: "p1", CreatedAt: now}, {ID: 9, Name: "p2", CreatedAt: now}}

	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	res, err := o.RunTwoStage(context.Background(), "RCC", 1, "")
	if err != nil {
		t.Fatalf("RunTwoStage returned error: %v", err)
	}
	<-msgs

	if len(gen.triggers) != 2 || gen.triggers[0] != "RCC/test_points" || gen.triggers[1] != "RCC/test_cases" {
		t.Fatalf("unexpected trigger order: %v", gen.triggers)
	}
	if len(gen.casePoints) != 2 || gen.casePoints[0] != 7 || gen.casePoints[1] != 9 {
		t.Errorf("expected cases generated from points 7 and 9, got %v", gen.casePoints)
	}
	if res.PointsTask.Status != models.TaskStatusCompleted || res.CasesTask.Status != models.TaskStatusCompleted {
		t.Errorf("expected both stages completed, got %+v", res)
	}

	total, completed, failed := o.GetStats()
	if total != 2 || completed != 2 || failed != 0 {
		t.Errorf("unexpected stats: %d %d %d", total, completed, failed)
	}
}

func TestRunTwoStage_NoPoints(t *testing.T) {
	gen := newMockGenerator()
	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	_, err := o.RunTwoStage(context.Background(), "RCC", 1, "")
	if err == nil {
		t.Fatalf("expected error when no points were generated")
	}
	<-msgs

	if len(gen.triggers) != 1 {
		t.Errorf("expected only the points stage to run, got %v", gen.triggers)
	}
	_, completed, failed := o.GetStats()
	if completed != 1 || failed != 1 {
		t.Errorf("expected second stage counted as failed, got completed=%d failed=%d", completed, failed)
	}
}

func TestRunTwoStage_FirstStageFails(t *testing.T) {
	gen := newMockGenerator()
	gen.finalStatus["RCC"] = models.TaskStatusFailed
	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	res, err := o.RunTwoStage(context.Background(), "RCC", 1, "")
	if err == nil {
		t.Fatalf("expected error when the first stage fails")
	}
	<-msgs

	if res.PointsTask.Status != models.TaskStatusFailed {
		t.Errorf("expected failed points task, got %s", res.PointsTask.Status)
	}
	if res.CasesTask.ID != "" {
		t.Errorf("expected no cases task")
	}
}

func TestRunTwoStage_KeepsOnlyPointsFromThisRun(t *testing.T) {
	gen := newMockGenerator()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now().Add(time.Minute)
	var want []int64
	for id := int64(1); id <= 230; id++ {
		created := old
		if id%2 == 0 {
			created = fresh
			want = append(want, id)
		}
		gen.points = append(gen.points, models.UnifiedTestCase{ID: id, CreatedAt: created})
	}

	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	res, err := o.RunTwoStage(context.Background(), "RCC", 1, "")
	if err != nil {
		t.Fatalf("RunTwoStage returned error: %v", err)
	}
	<-msgs

	if len(gen.pointsPages) != 3 {
		t.Errorf("expected 3 pages to be read, got %v", gen.pointsPages)
	}
	if len(gen.casePoints) != len(want) {
		t.Fatalf("expected %d fresh points, got %d", len(want), len(gen.casePoints))
	}
	for i, id := range want {
		if gen.casePoints[i] != id {
			t.Fatalf("point %d: got %d, want %d", i, gen.casePoints[i], id)
		}
	}
	if len(res.PointIDs) != len(want) {
		t.Errorf("result carries %d point ids, want %d", len(res.PointIDs), len(want))
	}
}

func TestRunTwoStage_UsesTaskResultPointIDs(t *testing.T) {
	gen := newMockGenerator()
	gen.points = []models.UnifiedTestCase{{ID: 1, CreatedAt: time.Now().Add(time.Minute)}}
	gen.pointResult = json.RawMessage(`{"test_point_ids":[41,42]}`)

	o := newTestOrchestrator(gen, Options{})
	msgs := drain(o)

	if _, err := o.RunTwoStage(context.Background(), "RCC", 1, ""); err != nil {
		t.Fatalf("RunTwoStage returned error: %v", err)
	}
	<-msgs

	if len(gen.pointsPages) != 0 {
		t.Errorf("expected no listing when the result names the points, got pages %v", gen.pointsPages)
	}
	if len(gen.casePoints) != 2 || gen.casePoints[0] != 41 || gen.casePoints[1] != 42 {
		t.Errorf("expected cases from points 41 and 42, got %v", gen.casePoints)
	}
}
