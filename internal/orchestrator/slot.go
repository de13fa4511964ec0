package orchestrator

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/casegen/internal/ui/components"
	"github.com/ldi/casegen/pkg/models"
)

var (
	slotTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	slotTaskStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	slotFrame      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1)
	slotFrameFocus = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("75")).Padding(0, 1)

	badgeStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		models.TaskStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		models.TaskStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true),
		models.TaskStatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		models.TaskStatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
)

// Lines of log a collapsed slot shows.
const slotLogLines = 5

// Slot is the pane of one worker: the business type and stage it is
// generating, the backend task behind it, and what the task reported so far.
type Slot struct {
	ID           int
	BusinessType string
	Stage        Stage
	TaskID       string
	Status       models.TaskStatus

	log    *components.TaskLog
	bar    *components.ProgressBar
	width  int
	height int
	sized  bool
	open   bool
	active bool
}

func NewSlot(id int) *Slot {
	return &Slot{
		ID:  id,
		log: components.NewTaskLog(40, slotLogLines),
		bar: components.NewProgressBar(40),
	}
}

// Resize gives the slot the area it may fill when expanded.
func (s *Slot) Resize(width, height int) {
	s.width, s.height = width, height
	s.sized = true
	s.fit()
}

func (s *Slot) Focus(on bool) { s.active = on }

func (s *Slot) Expand(on bool) {
	s.open = on
	s.fit()
}

func (s *Slot) Focused() bool  { return s.active }
func (s *Slot) Expanded() bool { return s.open }
func (s *Slot) Percent() int   { return s.bar.Percent() }

// Busy reports whether the slot holds a generation that has not finished.
func (s *Slot) Busy() bool {
	return s.Status == models.TaskStatusPending || s.Status == models.TaskStatusRunning
}

// inner is the width inside the frame border and padding.
func (s *Slot) inner() int {
	return max(s.width-4, 0)
}

func (s *Slot) fit() {
	s.bar.SetWidth(s.inner() - 2)
	lines := slotLogLines
	if s.open {
		// Frame, title, task line and bar take five rows.
		lines = max(s.height-5, slotLogLines)
	}
	s.log.SetSize(s.inner(), lines)
}

// Height is the number of rows View produces.
func (s *Slot) Height() int {
	if s.open {
		return s.height
	}
	return s.log.Height() + 5
}

func (s *Slot) begin(businessType string, stage Stage) {
	s.BusinessType, s.Stage = businessType, stage
	s.TaskID = ""
	s.Status = models.TaskStatusPending
	s.bar.Set(0)
	s.log.Reset()
	s.log.Notice(fmt.Sprintf("%s: 生成%s", businessType, stage.Label()))
}

func (s *Slot) attach(taskID string) {
	s.TaskID = taskID
	s.log.Add("任务已创建: " + taskID)
}

func (s *Slot) apply(task models.Task) {
	s.Status = task.Status
	s.bar.Set(task.Progress)
	if task.Message != "" {
		s.log.Add(task.Message)
	}
}

func (s *Slot) finish(msg TaskCompletedMsg) {
	switch {
	case msg.Success:
		s.Status = models.TaskStatusCompleted
		s.bar.Set(100)
		s.log.Notice("完成")
		return
	case msg.Task.Status.IsTerminal():
		s.Status = msg.Task.Status
	default:
		s.Status = models.TaskStatusFailed
	}
	if msg.Err != nil {
		s.log.Add(msg.Err.Error())
	}
	s.log.Notice("失败")
}

// Handle applies the orchestrator messages addressed to this slot. Keys
// scroll the log of an expanded slot.
func (s *Slot) Handle(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case WorkerStartedMsg:
		s.begin(msg.BusinessType, msg.Stage)
	case TaskStartedMsg:
		s.attach(msg.TaskID)
	case ProgressMsg:
		s.apply(msg.Task)
	case OutputMsg:
		s.log.Add(msg.Output)
	case TaskCompletedMsg:
		s.finish(msg)
	case tea.KeyMsg:
		if s.open {
			return s.log.Update(msg)
		}
	}
	return nil
}

func (s *Slot) badge() string {
	if s.Status == "" {
		return "IDLE"
	}
	return badgeStyles[s.Status].Render(strings.ToUpper(string(s.Status)))
}

func (s *Slot) title() string {
	t := fmt.Sprintf("Slot %d", s.ID)
	if s.BusinessType != "" {
		t += fmt.Sprintf(": %s · %s", s.BusinessType, s.Stage.Label())
	}
	return slotTitleStyle.Width(s.inner()).Render(fmt.Sprintf("%s [%s]", t, s.badge()))
}

func (s *Slot) View() string {
	if !s.sized {
		return "Initializing..."
	}
	task := "等待任务"
	if s.TaskID != "" {
		task = "task " + s.TaskID
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		s.title(),
		slotTaskStyle.Render(task),
		" "+s.bar.View(),
		s.log.View(),
	)

	frame := slotFrame
	if s.active {
		frame = slotFrameFocus
	}
	return frame.Width(s.width).Height(s.Height() - 2).Render(body)
}
