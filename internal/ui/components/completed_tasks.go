package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	succeededBoxStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("42")).
				Padding(0, 1)

	failedBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	sidebarTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252")).
				Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// TaskResult is one finished generation: the business type and what came of it.
type TaskResult struct {
	Name    string
	Detail  string
	Success bool
}

// CompletedTasks lists finished generations split into succeeded and failed.
type CompletedTasks struct {
	Succeeded []TaskResult
	Failed    []TaskResult
	Width     int
	Title     string
	limit     int
}

// NewCompletedTasks keeps at most limit entries per box; limit <= 0 keeps everything.
func NewCompletedTasks(width, limit int) *CompletedTasks {
	return &CompletedTasks{
		Width: width,
		Title: "已完成",
		limit: limit,
	}
}

func (c *CompletedTasks) Add(res TaskResult) {
	if res.Success {
		c.Succeeded = keepLast(append(c.Succeeded, res), c.limit)
	} else {
		c.Failed = keepLast(append(c.Failed, res), c.limit)
	}
}

func (c *CompletedTasks) Total() int {
	return len(c.Succeeded) + len(c.Failed)
}

func keepLast(s []TaskResult, limit int) []TaskResult {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

func (c *CompletedTasks) View() string {
	var boxes []string
	if len(c.Succeeded) > 0 {
		boxes = append(boxes, c.renderBox(fmt.Sprintf("成功 %d", len(c.Succeeded)), c.Succeeded, succeededBoxStyle, "✓"))
	}
	if len(c.Failed) > 0 {
		boxes = append(boxes, c.renderBox(fmt.Sprintf("失败 %d", len(c.Failed)), c.Failed, failedBoxStyle, "✗"))
	}

	content := placeholderStyle.Render("暂无完成的任务")
	if len(boxes) > 0 {
		content = strings.Join(boxes, "\n")
	}
	if c.Title == "" {
		return content
	}
	return sidebarTitleStyle.Render(c.Title) + "\n" + content
}

func (c *CompletedTasks) renderBox(title string, results []TaskResult, style lipgloss.Style, icon string) string {
	nameWidth := c.Width - 6
	if nameWidth < 0 {
		nameWidth = 0
	}

	var lines []string
	for _, r := range results {
		wrapped := strings.Split(lipgloss.NewStyle().Width(nameWidth).Render(r.Name), "\n")
		for i, line := range wrapped {
			if i == 0 {
				lines = append(lines, icon+" "+line)
			} else {
				lines = append(lines, "  "+line)
			}
		}
		if r.Detail != "" {
			lines = append(lines, "  "+detailStyle.Width(nameWidth).Render(r.Detail))
		}
	}

	header := boxTitleStyle.Foreground(style.GetForeground()).Render(title)
	return style.Width(max(c.Width-2, 0)).Render(header + "\n" + strings.Join(lines, "\n"))
}
