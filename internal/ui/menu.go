package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/casegen/pkg/models"
)

var (
	logoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	titleStyle        = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("12")).Bold(true)
	descStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const logo = `
  ___ __ _ ___  ___  __ _  ___ _ __
 / __/ _' / __|/ _ \/ _' |/ _ \ '_ \
| (_| (_| \__ \  __/ (_| |  __/ | | |
 \___\__,_|___/\___|\__, |\___|_| |_|
                    |___/
`

// Item is one selectable row.
type Item struct {
	Key         string
	Title       string
	Description string
}

// MenuModel is a vertical list with a cursor. It backs both the command menu
// and the project picker.
type MenuModel struct {
	header   string
	items    []Item
	cursor   int
	selected *Item
	quitting bool
}

// NewMenuModel lists the interactive commands.
func NewMenuModel() MenuModel {
	return MenuModel{
		header: logoStyle.Render(logo),
		items: []Item{
			{Key: "status", Title: "status", Description: "当前项目与任务概览"},
			{Key: "use", Title: "use", Description: "选择项目"},
			{Key: "test-points", Title: "test-points", Description: "查看测试点"},
			{Key: "test-cases", Title: "test-cases", Description: "查看测试用例"},
			{Key: "generate", Title: "generate", Description: "生成测试点或测试用例"},
			{Key: "two-stage", Title: "two-stage", Description: "先生成测试点，再生成测试用例"},
			{Key: "tasks", Title: "tasks", Description: "查看生成任务"},
			{Key: "stats", Title: "stats", Description: "统计概览"},
			{Key: "serve", Title: "serve", Description: "启动本地看板"},
		},
	}
}

// NewProjectPicker lists projects; the selected item's Key is the project id.
func NewProjectPicker(projects []models.Project, currentID int64) MenuModel {
	m := MenuModel{header: titleStyle.Render("请选择项目")}
	for i, p := range projects {
		title := p.Name
		if !p.IsActive {
			title += " (已停用)"
		}
		m.items = append(m.items, Item{
			Key:         fmt.Sprint(p.ID),
			Title:       title,
			Description: p.Description,
		})
		if p.ID == currentID {
			m.cursor = i
		}
	}
	return m
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}

		case "enter":
			if len(m.items) > 0 {
				item := m.items[m.cursor]
				m.selected = &item
			}
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m MenuModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(m.header)
	s.WriteString("\n")

	if len(m.items) == 0 {
		s.WriteString(descStyle.Render("  (空)"))
		s.WriteString("\n")
	}
	for i, item := range m.items {
		line := "  " + item.Title
		style := itemStyle
		if m.cursor == i {
			line = "> " + item.Title
			style = selectedItemStyle
		}
		s.WriteString(style.Render(line))
		if item.Description != "" {
			s.WriteString("  " + descStyle.Render(item.Description))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n(方向键或 j/k 移动，enter 选择，q 退出)\n")
	return s.String()
}

// Selected returns the chosen item, or nil when the user quit.
func (m MenuModel) Selected() *Item {
	return m.selected
}

func run(m MenuModel) (*Item, error) {
	finalModel, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	return finalModel.(MenuModel).Selected(), nil
}

// RunMenu returns the chosen command, or "" when the user quit.
func RunMenu() (string, error) {
	item, err := run(NewMenuModel())
	if err != nil || item == nil {
		return "", err
	}
	return item.Key, nil
}

// RunProjectPicker returns the chosen project, or nil when the user quit.
func RunProjectPicker(projects []models.Project, currentID int64) (*models.Project, error) {
	item, err := run(NewProjectPicker(projects, currentID))
	if err != nil || item == nil {
		return nil, err
	}
	for i := range projects {
		if fmt.Sprint(projects[i].ID) == item.Key {
			return &projects[i], nil
		}
	}
	return nil, nil
}

// RunPicker offers items under title and returns the chosen one, or nil.
func RunPicker(title string, items []Item) (*Item, error) {
	return run(MenuModel{header: titleStyle.Render(title), items: items})
}
