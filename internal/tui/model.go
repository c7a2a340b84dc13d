// Package tui renders live progress of a loop run: a spinner while an
// iteration is in flight, the score history as it accumulates, and the final
// verdict.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/qloopdev/qloop/internal/loop"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	scoreStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
)

// IterationMsg reports one finished iteration.
type IterationMsg struct {
	Result loop.IterationResult
}

// DoneMsg reports the terminal result.
type DoneMsg struct {
	Result loop.LoopResult
	Err    error
}

// Model is the watch-mode bubbletea model.
type Model struct {
	task       string
	maxIter    int
	spinner    spinner.Model
	iterations []loop.IterationResult
	done       bool
	result     loop.LoopResult
	err        error
	start      time.Time
	quitting   bool
}

// NewModel builds the watch model for a task.
func NewModel(task string, maxIter int) Model {
	return Model{
		task:    task,
		maxIter: maxIter,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		start:   time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case IterationMsg:
		m.iterations = append(m.iterations, typed.Result)
		return m, nil
	case DoneMsg:
		m.done = true
		m.result = typed.Result
		m.err = typed.Err
		return m, tea.Quit
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || typed.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("qloop") + " " + mutedStyle.Render(m.task) + "\n\n")

	for _, it := range m.iterations {
		marker := failStyle.Render("✗")
		if it.Assessment.Passed {
			marker = passStyle.Render("✓")
		}
		fmt.Fprintf(&b, "  %s iteration %d  %s\n",
			marker, it.Iteration, scoreStyle.Render(fmt.Sprintf("%.1f", it.Score)))
		for i, imp := range it.Assessment.ImprovementsNeeded {
			if i >= 3 {
				break
			}
			b.WriteString(mutedStyle.Render("      "+imp) + "\n")
		}
	}

	switch {
	case m.quitting:
		b.WriteString("\n" + mutedStyle.Render("stopping...") + "\n")
	case m.done:
		b.WriteString("\n" + m.verdict() + "\n")
	default:
		fmt.Fprintf(&b, "\n  %s iteration %d of %d\n",
			m.spinner.View(), len(m.iterations)+1, m.maxIter)
	}
	return b.String()
}

func (m Model) verdict() string {
	if m.err != nil {
		return failStyle.Render(fmt.Sprintf("run failed: %v", m.err))
	}
	line := fmt.Sprintf("%s after %d iteration(s), final score %.1f (%s)",
		m.result.Status, m.result.TotalIterations, m.result.FinalScore, m.result.Reason)
	if m.result.Status == loop.StatusSuccess {
		return headerStyle.Render(line)
	}
	return failStyle.Render(line)
}
