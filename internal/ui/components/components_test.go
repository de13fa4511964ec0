package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func TestCompletedTasks(t *testing.T) {
	c := NewCompletedTasks(80, 5)
	c.Title = "历史"

	c.Add(TaskResult{Name: "RCC", Detail: "生成 12 条", Success: true})
	c.Add(TaskResult{Name: "TSP", Detail: "服务器错误", Success: false})

	view := c.View()
	for _, want := range []string{"历史", "成功 1", "失败 1", "✓ RCC", "✗ TSP", "生成 12 条"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
	if c.Total() != 2 {
		t.Errorf("expected 2 results, got %d", c.Total())
	}
}

func TestCompletedTasksKeepsNewest(t *testing.T) {
	c := NewCompletedTasks(40, 2)
	c.Add(TaskResult{Name: "oldest", Success: true})
	c.Add(TaskResult{Name: "middle", Success: true})
	c.Add(TaskResult{Name: "newest", Success: true})

	view := c.View()
	if strings.Contains(view, "oldest") {
		t.Errorf("expected oldest entry to be dropped")
	}
	if strings.Index(view, "middle") > strings.Index(view, "newest") {
		t.Errorf("expected chronological order")
	}
}

func TestCompletedTasksEmptyState(t *testing.T) {
	c := NewCompletedTasks(80, 0)
	if !strings.Contains(c.View(), "暂无完成的任务") {
		t.Errorf("expected placeholder when no tasks")
	}

	c.Add(TaskResult{Name: "RCC", Success: true})
	view := c.View()
	if strings.Contains(view, "失败") {
		t.Errorf("expected no failed box when nothing failed")
	}
}

func TestCompletedTasksWidth(t *testing.T) {
	width := 24
	c := NewCompletedTasks(width, 0)
	c.Title = ""
	c.Add(TaskResult{Name: "a rather long business type name", Success: true})

	for _, line := range strings.Split(c.View(), "\n") {
		if w := lipgloss.Width(line); w > width {
			t.Errorf("line too wide: %d > %d: %q", w, width, line)
		}
	}
}

func TestTaskLog(t *testing.T) {
	l := NewTaskLog(80, 20)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC) }

	l.Add("生成中")
	l.Add("生成中")
	l.Notice("completed")

	if l.Lines() != 2 {
		t.Fatalf("expected duplicate line to be skipped, got %d lines", l.Lines())
	}
	view := l.View()
	if !strings.Contains(view, "09:30:00") || !strings.Contains(view, "生成中") {
		t.Errorf("expected timestamped line, got %q", view)
	}
	if !strings.Contains(view, "── completed ──") {
		t.Errorf("expected notice line")
	}

	l.Reset()
	if strings.Contains(l.View(), "生成中") {
		t.Errorf("expected view to be cleared after Reset")
	}
}

func TestTaskLogCapsLines(t *testing.T) {
	l := NewTaskLog(40, 5)
	l.maxLines = 3
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		l.Add(s)
	}
	if l.Lines() != 3 {
		t.Errorf("expected 3 lines, got %d", l.Lines())
	}
}

func TestTaskLogScrollbar(t *testing.T) {
	l := NewTaskLog(30, 3)
	for _, s := range []string{"1", "2", "3", "4", "5", "6"} {
		l.Add(s)
	}
	view := l.View()
	if !strings.Contains(view, "┃") {
		t.Errorf("expected scrollbar handle")
	}

	short := NewTaskLog(30, 10)
	short.Add("only")
	if strings.Contains(short.View(), "┃") {
		t.Errorf("expected no scrollbar when content fits")
	}
}

func TestProgressBar(t *testing.T) {
	p := NewProgressBar(30)
	p.Set(150)
	if p.Percent() != 100 {
		t.Errorf("expected clamp to 100, got %d", p.Percent())
	}
	p.Set(-5)
	if p.Percent() != 0 {
		t.Errorf("expected clamp to 0, got %d", p.Percent())
	}
	p.Set(42)
	if !strings.Contains(p.View(), "42%") {
		t.Errorf("expected percentage in view, got %q", p.View())
	}
}
