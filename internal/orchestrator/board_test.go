package orchestrator

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/casegen/pkg/models"
)

func newTestBoard(workers int) *Board {
	o := newTestOrchestrator(newMockGenerator(), Options{MaxWorkers: workers})
	b := NewBoard(o, "batch")
	b.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	return b
}

func press(b *Board, keys ...string) {
	for _, k := range keys {
		if k == "enter" {
			b.Update(tea.KeyMsg{Type: tea.KeyEnter})
			continue
		}
		b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	}
}

func TestNewBoard(t *testing.T) {
	b := newTestBoard(3)
	if len(b.slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(b.slots))
	}
	if !b.slots[0].Focused() {
		t.Errorf("expected the first slot focused")
	}
}

func TestBoard_RoutesMessagesBySlot(t *testing.T) {
	b := newTestBoard(2)

	b.Update(WorkerStartedMsg{WorkerID: 2, BusinessType: "RCC", Stage: StagePoints})
	b.Update(TaskStartedMsg{WorkerID: 2, TaskID: "t-1"})
	_, cmd := b.Update(ProgressMsg{WorkerID: 2, Task: models.Task{ID: "t-1", Status: models.TaskStatusRunning, Progress: 40, Message: "分析需求"}})
	if cmd == nil {
		t.Errorf("expected the board to keep reading messages")
	}

	s := b.slot(2)
	if s.BusinessType != "RCC" || s.TaskID != "t-1" {
		t.Fatalf("slot 2 not updated: %+v", s)
	}
	if s.Percent() != 40 || !s.Busy() {
		t.Errorf("expected running at 40%%, got %d (%s)", s.Percent(), s.Status)
	}
	if b.slot(1).BusinessType != "" {
		t.Errorf("slot 1 should be untouched")
	}
	if b.slot(9) != nil {
		t.Errorf("unknown worker ids have no slot")
	}

	b.Update(TaskCompletedMsg{WorkerID: 2, BusinessType: "RCC", Stage: StagePoints, Err: errors.New("boom")})
	if s.Status != models.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", s.Status)
	}
	if len(b.finished.Failed) != 1 || !strings.Contains(b.finished.Failed[0].Name, "RCC") {
		t.Fatalf("expected a failed RCC entry, got %+v", b.finished.Failed)
	}

	out := b.View()
	if !strings.Contains(out, "RCC") || !strings.Contains(out, "FAILED") {
		t.Errorf("expected the view to show the failed RCC slot")
	}
}

func TestBoard_Done(t *testing.T) {
	b := newTestBoard(1)
	b.Update(BatchDoneMsg{Succeeded: 1})
	if !b.done {
		t.Fatalf("expected done after BatchDoneMsg")
	}
	if !strings.Contains(b.View(), "已结束") {
		t.Errorf("expected the finished header")
	}

	b2 := newTestBoard(1)
	_, cmd := b2.Update(channelClosedMsg{})
	if !b2.done || cmd != nil {
		t.Errorf("expected a closed channel to finish without reading again")
	}
}

func TestBoard_Navigation(t *testing.T) {
	b := newTestBoard(3)

	press(b, "j")
	if b.focus != 1 {
		t.Errorf("expected focus on the second slot, got %d", b.focus)
	}
	press(b, "k", "k")
	if b.focus != 2 {
		t.Errorf("expected focus to wrap to the last slot, got %d", b.focus)
	}
	if !b.slots[2].Focused() || b.slots[0].Focused() {
		t.Errorf("focus flags out of sync")
	}
}

func TestBoard_Expansion(t *testing.T) {
	b := newTestBoard(2)

	press(b, "enter")
	if !b.slots[0].Expanded() {
		t.Fatalf("expected the first slot expanded")
	}

	// Focus stays put while a slot is expanded.
	press(b, "j")
	if b.focus != 0 {
		t.Errorf("expected focus to stay on the first slot while expanded")
	}

	press(b, "e")
	if b.slots[0].Expanded() {
		t.Errorf("expected the first slot collapsed")
	}
}

func TestBoard_Quit(t *testing.T) {
	b := newTestBoard(1)
	cancelled := false
	b.cancel = func() { cancelled = true }

	_, cmd := b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !cancelled || !b.quitting {
		t.Errorf("expected quit to cancel the job")
	}
}

func TestBoard_FitsWidth(t *testing.T) {
	for _, width := range []int{80, 120, 200} {
		o := newTestOrchestrator(newMockGenerator(), Options{MaxWorkers: 2})
		b := NewBoard(o, "batch")
		b.Update(tea.WindowSizeMsg{Width: width, Height: 50})
		b.Update(WorkerStartedMsg{WorkerID: 1, BusinessType: "RCC", Stage: StageCases})

		for i, line := range strings.Split(b.View(), "\n") {
			if w := lipgloss.Width(line); w > width {
				t.Errorf("width %d: line %d too wide (%d)", width, i, w)
			}
		}
	}
}
