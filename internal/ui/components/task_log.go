package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	logTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	logLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	logNoticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	scrollTrackStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("236"))

	scrollHandleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

const defaultMaxLines = 500

// TaskLog is a scrolling, timestamped log of task messages.
type TaskLog struct {
	viewport viewport.Model
	lines    []string
	maxLines int
	last     string
	now      func() time.Time
}

func NewTaskLog(width, height int) *TaskLog {
	l := &TaskLog{
		maxLines: defaultMaxLines,
		now:      time.Now,
	}
	l.viewport = viewport.New(max(width-1, 0), height)
	return l
}

func (l *TaskLog) SetSize(width, height int) {
	l.viewport.Width = max(width-1, 0)
	l.viewport.Height = height
	l.refresh()
}

// Add appends a message. A message equal to the previous one is skipped, so
// repeated progress frames do not flood the log.
func (l *TaskLog) Add(msg string) {
	msg = strings.TrimRight(msg, "\n")
	if msg == "" || msg == l.last {
		return
	}
	l.last = msg
	stamp := logTimeStyle.Render(l.now().Format("15:04:05"))
	l.push(stamp + " " + logLineStyle.Render(msg))
}

// Notice appends a highlighted line, used for state changes.
func (l *TaskLog) Notice(msg string) {
	l.last = ""
	l.push(logNoticeStyle.Render("── " + msg + " ──"))
}

func (l *TaskLog) push(line string) {
	l.lines = append(l.lines, line)
	if len(l.lines) > l.maxLines {
		l.lines = l.lines[len(l.lines)-l.maxLines:]
	}
	l.refresh()
}

func (l *TaskLog) Reset() {
	l.lines = nil
	l.last = ""
	l.refresh()
}

func (l *TaskLog) Lines() int {
	return len(l.lines)
}

func (l *TaskLog) refresh() {
	content := strings.Join(l.lines, "\n")
	if l.viewport.Width > 0 {
		content = lipgloss.NewStyle().Width(l.viewport.Width).Render(content)
	}
	l.viewport.SetContent(content)
	l.viewport.GotoBottom()
}

func (l *TaskLog) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return cmd
}

func (l *TaskLog) Height() int {
	return l.viewport.Height
}

func (l *TaskLog) View() string {
	if l.viewport.TotalLineCount() <= l.viewport.Height || l.viewport.Height <= 0 {
		return l.viewport.View()
	}

	h := l.viewport.Height
	handle := int(float64(h-1) * l.viewport.ScrollPercent())
	bar := make([]string, h)
	for i := range bar {
		if i == handle {
			bar[i] = scrollHandleStyle.Render("┃")
		} else {
			bar[i] = scrollTrackStyle.Render("│")
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, l.viewport.View(), strings.Join(bar, "\n"))
}
