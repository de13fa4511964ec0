package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var percentStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("252")).
	Width(5).
	Align(lipgloss.Right)

// ProgressBar renders a task's 0-100 progress without animation, so it can be
// redrawn straight from tracker state.
type ProgressBar struct {
	bar     progress.Model
	percent int
}

func NewProgressBar(width int) *ProgressBar {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	p := &ProgressBar{bar: bar}
	p.SetWidth(width)
	return p
}

func (p *ProgressBar) SetWidth(width int) {
	// Leave room for the percentage column.
	p.bar.Width = max(width-6, 4)
}

func (p *ProgressBar) Set(percent int) {
	p.percent = min(max(percent, 0), 100)
}

func (p *ProgressBar) Percent() int {
	return p.percent
}

func (p *ProgressBar) View() string {
	return p.bar.ViewAs(float64(p.percent)/100) + " " + percentStyle.Render(fmt.Sprintf("%d%%", p.percent))
}
