package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/wsclient"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

// scriptedPoller returns the scripted states in order, repeating the last one.
type scriptedPoller struct {
	mu     sync.Mutex
	states []models.Task
	calls  int
}

func (p *scriptedPoller) GetTaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := min(p.calls, len(p.states)-1)
	p.calls++
	task := p.states[i]
	return &task, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestMonitor(p tracker.Poller, ws Subscriber) (*Monitor, *syncBuffer) {
	m := New(tracker.New(zap.NewNop(), nil), p, ws, 5*time.Millisecond, zap.NewNop())
	m.NoTUI = true
	out := &syncBuffer{}
	m.SetOutput(out)
	m.now = func() time.Time { return time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC) }
	return m, out
}

func TestMonitor_NoTUICompleted(t *testing.T) {
	p := &scriptedPoller{states: []models.Task{
		{Status: models.TaskStatusRunning, Progress: 30, Message: "生成测试点"},
		{Status: models.TaskStatusCompleted, Progress: 100},
	}}
	m, out := newTestMonitor(p, nil)

	task, err := m.Run(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if task.Status != models.TaskStatusCompleted || task.Progress != 100 {
		t.Fatalf("unexpected final task: %+v", task)
	}

	got := out.String()
	for _, want := range []string{"--- 正在监控任务 t-1 ---", "[08:00:00] running    30%  生成测试点", "completed", "--- 任务结束: completed ---"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestMonitor_NoTUIFailed(t *testing.T) {
	reason := "模型超时"
	p := &scriptedPoller{states: []models.Task{
		{Status: models.TaskStatusFailed, Error: &reason},
	}}
	m, out := newTestMonitor(p, nil)

	task, err := m.Run(context.Background(), "t-2")
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if task.Status != models.TaskStatusFailed {
		t.Errorf("expected failed task, got %s", task.Status)
	}
	if !strings.Contains(out.String(), "error: 模型超时") {
		t.Errorf("expected failure reason in output:\n%s", out.String())
	}
}

func TestMonitor_Cancelled(t *testing.T) {
	p := &scriptedPoller{states: []models.Task{{Status: models.TaskStatusRunning, Progress: 10}}}
	m, _ := newTestMonitor(p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	task, err := m.Run(ctx, "t-3")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if task.Status != models.TaskStatusRunning {
		t.Errorf("expected last known state, got %+v", task)
	}
}

type pushSubscriber struct {
	unsubscribed bool
}

func (s *pushSubscriber) SubscribeToTask(taskID string, handler wsclient.TaskHandler) func() {
	go handler(models.WSMessage{
		Type:   models.WSTaskUpdate,
		TaskID: taskID,
		Data:   []byte(`{"status":"completed","progress":100,"message":"via ws"}`),
	})
	return func() { s.unsubscribed = true }
}

func TestMonitor_PushedCompletion(t *testing.T) {
	p := &scriptedPoller{states: []models.Task{{Status: models.TaskStatusRunning}}}
	sub := &pushSubscriber{}
	m, _ := newTestMonitor(p, sub)
	m.interval = time.Hour

	task, err := m.Run(context.Background(), "t-4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if task.Message != "via ws" {
		t.Errorf("expected pushed state, got %+v", task)
	}
	if !sub.unsubscribed {
		t.Errorf("expected unsubscribe on exit")
	}
}

func TestTUIModel_Updates(t *testing.T) {
	m := NewTUIModel("t-1")
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	m.Update(UpdateMsg{Task: models.Task{ID: "t-1", Status: models.TaskStatusRunning, Progress: 60, BusinessType: "RCC", Message: "分析中"}, Source: tracker.SourceWS})
	view := m.View()
	for _, want := range []string{"task t-1", "运行中", "RCC", "ws", "60%", "分析中"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}

	_, cmd := m.Update(DoneMsg{Task: models.Task{ID: "t-1", Status: models.TaskStatusCompleted, Progress: 100}})
	if cmd == nil || !m.done {
		t.Fatalf("expected quit after done")
	}
	if !strings.Contains(m.View(), "已完成") {
		t.Errorf("expected completed status in view")
	}
}

func TestTUIModel_Quit(t *testing.T) {
	m := NewTUIModel("t-1")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if m.View() != "\n  Initializing..." {
		t.Errorf("expected placeholder before sizing")
	}
}
