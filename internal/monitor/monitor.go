package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/wsclient"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

// Subscriber delivers pushed task updates.
type Subscriber interface {
	SubscribeToTask(taskID string, handler wsclient.TaskHandler) func()
}

// Monitor follows one backend task until it is terminal.
type Monitor struct {
	tracker  *tracker.Tracker
	poller   tracker.Poller
	ws       Subscriber
	interval time.Duration
	logger   *zap.Logger
	program  *tea.Program
	out      io.Writer
	now      func() time.Time
	NoTUI    bool
}

// New creates a Monitor. ws may be nil, in which case only polling is used.
func New(tr *tracker.Tracker, poller tracker.Poller, ws Subscriber, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		tracker:  tr,
		poller:   poller,
		ws:       ws,
		interval: interval,
		logger:   logger,
		out:      os.Stdout,
		now:      time.Now,
	}
}

// SetOutput sets where NoTUI mode writes.
func (m *Monitor) SetOutput(w io.Writer) {
	m.out = w
}

// ErrTaskFailed is returned when the watched task ends in failed or cancelled.
var ErrTaskFailed = errors.New("task did not complete")

// Run watches taskID. The returned task is the last known state.
func (m *Monitor) Run(ctx context.Context, taskID string) (models.Task, error) {
	if m.NoTUI {
		return m.watch(ctx, taskID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewTUIModel(taskID)
	m.program = tea.NewProgram(model, tea.WithContext(ctx))

	var (
		task    models.Task
		loopErr error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		task, loopErr = m.watch(ctx, taskID)
		m.program.Send(DoneMsg{Task: task, Err: loopErr})
	}()

	_, err := m.program.Run()
	// Leaving the TUI stops watching; the task keeps running on the backend.
	cancel()
	<-done

	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return task, loopErr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}
	return task, err
}

func (m *Monitor) watch(ctx context.Context, taskID string) (models.Task, error) {
	m.tracker.Apply(models.Task{ID: taskID, Status: models.TaskStatusPending}, tracker.SourceLocal)
	m.sendStatus("正在监控任务 " + taskID)

	stop := m.tracker.Listen(func(task models.Task, src tracker.Source) {
		if task.ID == taskID {
			m.sendUpdate(task, src)
		}
	})
	defer stop()

	if m.ws != nil {
		unsubscribe := m.ws.SubscribeToTask(taskID, m.tracker.HandleWS)
		defer unsubscribe()
	}

	pollCtx, cancel := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := m.tracker.Poll(pollCtx, m.poller, taskID, m.interval); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Debug("task poll stopped", zap.String("task_id", taskID), zap.Error(err))
		}
	}()
	defer func() {
		cancel()
		<-pollDone
	}()

	task, err := m.tracker.Wait(ctx, taskID)
	if err != nil {
		m.sendStatus("已停止监控")
		if last, ok := m.tracker.Get(taskID); ok {
			task = last
		}
		return task, err
	}

	m.sendStatus(fmt.Sprintf("任务结束: %s", task.Status))
	if task.Status != models.TaskStatusCompleted {
		return task, fmt.Errorf("%w: %s %s", ErrTaskFailed, taskID, task.Status)
	}
	return task, nil
}

func (m *Monitor) sendStatus(msg string) {
	if m.program != nil {
		m.program.Send(StatusMsg(msg))
		return
	}
	fmt.Fprintf(m.out, "--- %s ---\n", msg)
}

func (m *Monitor) sendUpdate(task models.Task, src tracker.Source) {
	if m.program != nil {
		m.program.Send(UpdateMsg{Task: task, Source: src})
		return
	}
	line := fmt.Sprintf("[%s] %-9s %3d%%", m.now().Format("15:04:05"), task.Status, task.Progress)
	if task.Message != "" {
		line += "  " + task.Message
	}
	if task.Error != nil && *task.Error != "" {
		line += "  error: " + *task.Error
	}
	fmt.Fprintln(m.out, line)
}
