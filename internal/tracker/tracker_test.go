package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ldi/casegen/internal/metrics"
	"github.com/ldi/casegen/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func upd(status models.TaskStatus, progress int, at time.Duration) models.Task {
	return models.Task{ID: "t1", Status: status, Progress: progress, UpdatedAt: base.Add(at)}
}

func TestProgressNeverDecreases(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 60, time.Second), SourceWS)

	got, changed := tr.Apply(upd(models.TaskStatusRunning, 40, 2*time.Second), SourcePoll)
	assert.True(t, changed)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, base.Add(2*time.Second), got.UpdatedAt)
}

func TestStaleUpdatesDropped(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 50, 5*time.Second), SourceWS)

	got, changed := tr.Apply(upd(models.TaskStatusRunning, 80, time.Second), SourcePoll)
	assert.False(t, changed)
	assert.Equal(t, 50, got.Progress)
}

func TestTerminalIsSticky(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 50, time.Second), SourceWS)
	got, _ := tr.Apply(upd(models.TaskStatusCompleted, 90, 2*time.Second), SourceWS)
	assert.Equal(t, 100, got.Progress)

	got, changed := tr.Apply(upd(models.TaskStatusRunning, 10, 3*time.Second), SourcePoll)
	assert.False(t, changed)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
}

func TestTerminalAcceptedEvenWhenOlder(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 50, 5*time.Second), SourceWS)

	got, changed := tr.Apply(upd(models.TaskStatusFailed, 50, time.Second), SourcePoll)
	assert.True(t, changed)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestStatusDoesNotRegress(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 10, time.Second), SourceWS)

	got, _ := tr.Apply(upd(models.TaskStatusPending, 20, 2*time.Second), SourcePoll)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.Equal(t, 20, got.Progress)
}

func TestRepeatedErrorTextIsNotAChange(t *testing.T) {
	tr := New(nil, nil)
	var calls int
	stop := tr.Listen(func(models.Task, Source) { calls++ })
	defer stop()

	poll := func() models.Task {
		msg := "quota exceeded"
		task := upd(models.TaskStatusRunning, 40, time.Second)
		task.Error = &msg
		return task
	}

	_, changed := tr.Apply(poll(), SourcePoll)
	assert.True(t, changed)
	_, changed = tr.Apply(poll(), SourcePoll)
	assert.False(t, changed)
	assert.Equal(t, 1, calls)

	other := "model timeout"
	next := poll()
	next.Error = &other
	got, changed := tr.Apply(next, SourcePoll)
	assert.True(t, changed)
	assert.Equal(t, "model timeout", *got.Error)
	assert.Equal(t, 2, calls)
}

func TestHandleWS(t *testing.T) {
	tr := New(nil, nil)
	data, _ := json.Marshal(map[string]any{"status": "running", "progress": 30})

	tr.HandleWS(models.WSMessage{Type: models.WSTaskUpdate, TaskID: "abc", Data: data})
	tr.HandleWS(models.WSMessage{Type: models.WSPong})
	tr.HandleWS(models.WSMessage{Type: models.WSTaskUpdate, TaskID: "abc", Data: json.RawMessage(`[1,2]`)})

	got, ok := tr.Get("abc")
	require.True(t, ok)
	assert.Equal(t, 30, got.Progress)
	assert.Len(t, tr.Snapshot(), 1)
}

func TestListenersAndMetrics(t *testing.T) {
	m := metrics.New()
	tr := New(nil, m)

	var mu sync.Mutex
	var seen []Source
	stop := tr.Listen(func(task models.Task, src Source) {
		mu.Lock()
		seen = append(seen, src)
		mu.Unlock()
	})

	tr.Apply(upd(models.TaskStatusRunning, 10, time.Second), SourceWS)
	tr.Apply(upd(models.TaskStatusCompleted, 100, 2*time.Second), SourcePoll)
	tr.Apply(upd(models.TaskStatusCompleted, 100, 3*time.Second), SourcePoll)
	stop()
	stop()
	tr.Apply(models.Task{ID: "t2", Status: models.TaskStatusRunning}, SourceLocal)

	assert.Equal(t, []Source{SourceWS, SourcePoll}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksFinished.WithLabelValues("completed")))
	assert.Equal(t, []string{"t2"}, tr.Active())
}

func TestWait(t *testing.T) {
	tr := New(nil, nil)
	tr.Apply(upd(models.TaskStatusRunning, 10, time.Second), SourceWS)

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Apply(upd(models.TaskStatusCompleted, 100, 2*time.Second), SourceWS)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := tr.Wait(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = tr.Wait(ctx2, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type scriptedPoller struct {
	mu    sync.Mutex
	calls int
	steps []models.Task
}

func (p *scriptedPoller) GetTaskStatus(ctx context.Context, id string) (*models.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	step := p.steps[i]
	if step.Status == "" {
		return nil, errors.New("backend unavailable")
	}
	return &step, nil
}

func TestPollUntilTerminal(t *testing.T) {
	tr := New(nil, nil)
	p := &scriptedPoller{steps: []models.Task{
		{Status: models.TaskStatusRunning, Progress: 20, UpdatedAt: base.Add(time.Second)},
		{},
		{Status: models.TaskStatusCompleted, Progress: 100, UpdatedAt: base.Add(3 * time.Second)},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Poll(ctx, p, "t9", 5*time.Millisecond))

	got, _ := tr.Get("t9")
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 3, p.calls)
}
