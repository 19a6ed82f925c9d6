// Package tui provides the terminal watch view for the focus timer.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

var (
	focusColor   = lipgloss.Color("#10B981")
	breakColor   = lipgloss.Color("#06B6D4")
	lockoutColor = lipgloss.Color("#2563EB")
	mutedColor   = lipgloss.Color("#6B7280")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	clockStyle = lipgloss.NewStyle().Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().Foreground(errorColor)
)

// Source feeds the watch view.
type Source interface {
	Settings(ctx context.Context) (*api.SettingsView, error)
	TimerData(ctx context.Context) (domain.TimerRecord, error)
	Events(ctx context.Context, fn func(domain.Message) error) error
}

type tickMsg time.Time

type timerMsg domain.TimerRecord

type streamClosedMsg struct{ err error }

// Model is the Bubble Tea model of the watch view.
type Model struct {
	record     domain.TimerRecord
	focusTotal time.Duration
	breakTotal time.Duration
	now        func() time.Time
	err        error
	connected  bool
}

// NewModel builds a model using settings for the bar totals.
// A nil settings view falls back to the defaults.
func NewModel(settings *api.SettingsView, now func() time.Time) Model {
	defaults := domain.DefaultSettings()
	m := Model{
		record:     domain.IdleRecord(),
		focusTotal: defaults.FocusDuration(),
		breakTotal: defaults.BreakDuration(),
		now:        now,
		connected:  true,
	}
	if settings != nil {
		if settings.FocusDurationMinutes > 0 {
			m.focusTotal = time.Duration(settings.FocusDurationMinutes) * time.Minute
		}
		if settings.BreakDurationMinutes > 0 {
			m.breakTotal = time.Duration(settings.BreakDurationMinutes) * time.Minute
		}
	}
	return m
}

// Record returns the last record the view received.
func (m Model) Record() domain.TimerRecord { return m.record }

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case timerMsg:
		m.record = domain.TimerRecord(msg)
		m.err = nil
		m.connected = true
	case tickMsg:
		return m, tick()
	case streamClosedMsg:
		m.connected = false
		m.err = msg.err
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Focus Forge"))
	b.WriteString("\n\n")

	var body string
	switch m.record.State {
	case domain.StateFocusing:
		body = m.timed("Focusing", focusColor, m.focusTotal)
	case domain.StateBreaking:
		body = m.timed("Break", breakColor, m.breakTotal)
	case domain.StateLockout:
		body = lipgloss.NewStyle().Foreground(lockoutColor).Bold(true).Render("Locked out") +
			"\n\nStop the timer to restore your session."
	default:
		body = lipgloss.NewStyle().Foreground(mutedColor).Bold(true).Render("Idle") +
			"\n\nRun 'focusforge start' to begin a focus session."
	}
	b.WriteString(boxStyle.Render(body))
	b.WriteString("\n")

	if !m.connected {
		msg := "disconnected from daemon"
		if m.err != nil {
			msg = fmt.Sprintf("%s: %v", msg, m.err)
		}
		b.WriteString(errorStyle.Render(msg))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) timed(label string, color lipgloss.Color, total time.Duration) string {
	remaining := m.record.Remaining(m.now())
	filled := domain.FilledCells(remaining, total, domain.ProgressCells)
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Repeat("░", domain.ProgressCells-filled))

	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(label) + "\n\n" +
		clockStyle.Render(domain.FormatClock(remaining)) + "\n" + bar
}

// Run shows the watch view until the user quits or ctx ends.
func Run(ctx context.Context, src Source, opts ...tea.ProgramOption) error {
	var settings *api.SettingsView
	if s, err := src.Settings(ctx); err == nil {
		settings = s
	}
	m := NewModel(settings, time.Now)
	if record, err := src.TimerData(ctx); err == nil {
		m.record = record
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	go func() {
		err := src.Events(ctx, func(msg domain.Message) error {
			if msg.Type == domain.TypeTimerUpdated && msg.Data != nil {
				p.Send(timerMsg(*msg.Data))
			}
			return nil
		})
		if ctx.Err() == nil {
			p.Send(streamClosedMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run watch view: %w", err)
	}
	return nil
}
