package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/ui/components"
	"github.com/ldi/casegen/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)

	taskBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, true, true, false).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Margin(1, 0)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type (
	StatusMsg string
	UpdateMsg struct {
		Task   models.Task
		Source tracker.Source
	}
	DoneMsg struct {
		Task models.Task
		Err  error
	}
)

type TUIModel struct {
	TaskID   string
	Task     models.Task
	Source   tracker.Source
	Progress *components.ProgressBar
	Log      *components.TaskLog
	started  time.Time
	now      func() time.Time
	done     bool
	err      error
	ready    bool
	width    int
	height   int
}

func NewTUIModel(taskID string) *TUIModel {
	return &TUIModel{
		TaskID:   taskID,
		Task:     models.Task{ID: taskID, Status: models.TaskStatusPending},
		Progress: components.NewProgressBar(40),
		Log:      components.NewTaskLog(0, 0),
		started:  time.Now(),
		now:      time.Now,
	}
}

func (m *TUIModel) Init() tea.Cmd {
	return nil
}

func (m *TUIModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.ready = true
	m.Progress.SetWidth(width - 4)
	m.recalculateLayout()
}

func (m *TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case StatusMsg:
		m.Log.Notice(string(msg))

	case UpdateMsg:
		m.Task = msg.Task
		m.Source = msg.Source
		m.Progress.Set(msg.Task.Progress)
		if msg.Task.Message != "" {
			m.Log.Add(msg.Task.Message)
		}

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Task.ID != "" {
			m.Task = msg.Task
			m.Progress.Set(msg.Task.Progress)
		}
		return m, tea.Quit
	}

	return m, m.Log.Update(msg)
}

func (m *TUIModel) recalculateLayout() {
	if !m.ready {
		return
	}
	occupied := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderTask()) + lipgloss.Height(m.helpView()) + 2
	m.Log.SetSize(m.width, max(m.height-occupied, 3))
}

func (m *TUIModel) renderHeader() string {
	elapsed := m.now().Sub(m.started).Truncate(time.Second)
	return headerStyle.Render(fmt.Sprintf("casegen watch | task %s | %s", m.TaskID, elapsed))
}

func (m *TUIModel) renderTask() string {
	lines := []string{
		fmt.Sprintf("状态: %s", m.statusString()),
	}
	if m.Task.BusinessType != "" {
		lines = append(lines, "业务类型: "+m.Task.BusinessType)
	}
	if m.Source != "" {
		lines = append(lines, "来源: "+string(m.Source))
	}
	lines = append(lines, "", m.Progress.View())
	return taskBoxStyle.Width(max(m.width-2, 0)).Render(strings.Join(lines, "\n"))
}

func (m *TUIModel) statusString() string {
	switch m.Task.Status {
	case models.TaskStatusCompleted:
		return successStyle.Render("已完成")
	case models.TaskStatusFailed:
		reason := "已失败"
		if m.Task.Error != nil && *m.Task.Error != "" {
			reason += ": " + *m.Task.Error
		}
		return failureStyle.Render(reason)
	case models.TaskStatusCancelled:
		return failureStyle.Render("已取消")
	case models.TaskStatusRunning:
		return "运行中"
	default:
		return "等待中"
	}
}

func (m *TUIModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s", m.renderHeader(), m.renderTask(), m.Log.View(), m.helpView())
}

func (m *TUIModel) helpView() string {
	if m.done {
		if m.err != nil {
			return helpStyle.Render("监控结束: " + errs.Translate(m.err))
		}
		return helpStyle.Render("监控结束")
	}
	return helpStyle.Render("按 'q' 停止监控，任务会在后台继续运行")
}
