package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/ui/components"
)

var (
	boardDot    = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	boardTitle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Padding(0, 1)
	boardHeader = lipgloss.NewStyle().Padding(1, 2)
	boardHint   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boardSide   = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("240"))
)

// Board is the TUI shown while a batch or two-stage job runs: finished
// generations on the left, one slot per worker on the right.
type Board struct {
	orch     *Orchestrator
	title    string
	slots    []*Slot
	focus    int
	offset   int
	finished *components.CompletedTasks

	width     int
	height    int
	sideWidth int
	sized     bool
	done      bool
	quitting  bool
	cancel    context.CancelFunc
}

func NewBoard(orch *Orchestrator, title string) *Board {
	b := &Board{
		orch:     orch,
		title:    title,
		finished: components.NewCompletedTasks(0, 100),
	}
	for id := 1; id <= orch.MaxWorkers(); id++ {
		b.slots = append(b.slots, NewSlot(id))
	}
	b.slots[0].Focus(true)
	return b
}

// channelClosedMsg means the orchestrator will send nothing more.
type channelClosedMsg struct{}

func (b *Board) Init() tea.Cmd {
	return b.next()
}

func (b *Board) next() tea.Cmd {
	ch := b.orch.Messages()
	return func() tea.Msg {
		if msg, ok := <-ch; ok {
			return msg
		}
		return channelClosedMsg{}
	}
}

// slot returns the pane of a worker id, or nil.
func (b *Board) slot(workerID int) *Slot {
	if workerID < 1 || workerID > len(b.slots) {
		return nil
	}
	return b.slots[workerID-1]
}

func (b *Board) expanded() *Slot {
	for _, s := range b.slots {
		if s.Expanded() {
			return s
		}
	}
	return nil
}

func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var target *Slot

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if quit := b.key(msg); quit {
			return b, tea.Quit
		}
		if s := b.expanded(); s != nil {
			return b, s.Handle(msg)
		}
		return b, nil

	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		b.sized = true
		b.layout()
		return b, nil

	case channelClosedMsg:
		b.done = true
		return b, nil

	case BatchDoneMsg:
		b.done = true

	case WorkerStartedMsg:
		target = b.slot(msg.WorkerID)
	case TaskStartedMsg:
		target = b.slot(msg.WorkerID)
	case ProgressMsg:
		target = b.slot(msg.WorkerID)
	case OutputMsg:
		target = b.slot(msg.WorkerID)
	case TaskCompletedMsg:
		target = b.slot(msg.WorkerID)
		b.record(msg)

	default:
		return b, nil
	}

	if target != nil {
		target.Handle(msg)
	}
	return b, b.next()
}

func (b *Board) record(msg TaskCompletedMsg) {
	detail := "完成"
	switch {
	case msg.Err != nil:
		detail = errs.Translate(msg.Err)
	case msg.Task.Message != "":
		detail = msg.Task.Message
	}
	b.finished.Add(components.TaskResult{
		Name:    fmt.Sprintf("%s · %s", msg.BusinessType, msg.Stage.Label()),
		Detail:  detail,
		Success: msg.Success,
	})
}

// key handles navigation and reports whether the board should quit.
func (b *Board) key(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		b.quitting = true
		if b.cancel != nil {
			b.cancel()
		}
		return true
	case "j", "down":
		b.step(1)
	case "k", "up":
		b.step(-1)
	case "e", "enter":
		b.toggle()
	}
	return false
}

// step moves the focus, wrapping around. It is a no-op while a slot is expanded.
func (b *Board) step(delta int) {
	if b.expanded() != nil || len(b.slots) == 0 {
		return
	}
	b.slots[b.focus].Focus(false)
	b.focus = (b.focus + delta + len(b.slots)) % len(b.slots)
	b.slots[b.focus].Focus(true)
	b.reveal()
}

func (b *Board) toggle() {
	s := b.slots[b.focus]
	open := !s.Expanded()
	for _, other := range b.slots {
		other.Expand(false)
	}
	s.Expand(open)
	b.layout()
	b.reveal()
}

func (b *Board) bodyHeight() int {
	return b.height - lipgloss.Height(b.header()) - lipgloss.Height(b.hint())
}

// reveal scrolls so the focused slot is fully visible.
func (b *Board) reveal() {
	room := b.bodyHeight()
	if room <= 0 {
		return
	}
	top := 0
	for _, s := range b.slots[:b.focus] {
		top += s.Height()
	}
	bottom := top + b.slots[b.focus].Height()
	switch {
	case top < b.offset:
		b.offset = top
	case bottom > b.offset+room:
		b.offset = bottom - room
	}
}

func (b *Board) layout() {
	if !b.sized {
		return
	}
	b.sideWidth = max(b.width/4, 24)
	b.finished.Width = b.sideWidth - 1
	room := max(b.bodyHeight(), 10)
	for _, s := range b.slots {
		s.Resize(b.width-b.sideWidth-2, room)
	}
}

func (b *Board) View() string {
	if !b.sized {
		return "Initializing..."
	}
	header, hint := b.header(), b.hint()
	room := max(b.height-lipgloss.Height(header)-lipgloss.Height(hint), 0)

	var panes []string
	start := b.offset
	if open := b.expanded(); open != nil {
		panes = []string{open.View()}
		start = 0
	} else {
		for _, s := range b.slots {
			panes = append(panes, s.View())
		}
	}
	lines := strings.Split(strings.Join(panes, "\n"), "\n")
	start = min(max(start, 0), len(lines))
	end := min(start+room, len(lines))

	side := boardSide.Width(b.sideWidth - 1).Height(room).Render(b.finished.View())
	work := lipgloss.NewStyle().Width(b.width - b.sideWidth).Height(room).Render(strings.Join(lines[start:end], "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, lipgloss.JoinHorizontal(lipgloss.Top, side, work), hint)
}

func (b *Board) header() string {
	total, completed, failed := b.orch.GetStats()
	state := "运行中"
	if b.done {
		state = "已结束"
	}
	text := fmt.Sprintf("casegen %s | %s | Workers: %d/%d | 完成 %d · 失败 %d · 共 %d",
		b.title, state, len(b.orch.ActiveWorkers()), b.orch.MaxWorkers(), completed, failed, total)
	line := lipgloss.JoinHorizontal(lipgloss.Center, boardDot.Render("⬤"), "  ", boardTitle.Render(text))
	return boardHeader.Width(max(b.width-4, 0)).Render(line)
}

func (b *Board) hint() string {
	if b.done {
		return boardHint.Render("全部任务已结束 • 按 'q' 退出")
	}
	return boardHint.Render("'q' 取消并退出 • 'j'/'k' 切换 • 'e'/'enter' 展开/收起")
}

// Run shows the board while job drives the orchestrator. Quitting the board
// cancels job; after job returns the board stays up until the user quits.
func Run(ctx context.Context, orch *Orchestrator, title string, job func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := NewBoard(orch, title)
	b.cancel = cancel

	jobErr := make(chan error, 1)
	go func() { jobErr <- job(ctx) }()

	_, err := tea.NewProgram(b, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	if jerr := <-jobErr; jerr != nil && !errors.Is(jerr, context.Canceled) {
		return jerr
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
