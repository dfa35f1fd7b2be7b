package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tessera/cli/reader"
	"github.com/pithecene-io/tessera/metrics"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	theme    Theme
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any, theme Theme) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
		theme:    theme,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsFinalize:
		content = m.renderStatsFinalize()
	case ViewStatsMetrics:
		content = m.renderStatsMetrics()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := m.theme.Help.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsFinalize() string {
	data, ok := m.data.(*reader.FinalizeStats)
	if !ok {
		return "Invalid data type for stats_finalize"
	}

	c := m.theme.Colors
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Finalize Outcomes"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Total", int64(data.Total), c.Info),
		m.renderStatBox("Complete", int64(data.Complete), c.Good),
		m.renderStatBox("Size Mismatch", int64(data.SizeMismatch), c.Bad),
		m.renderStatBox("No Units", int64(data.NoUnits), c.Warn),
		m.renderStatBox("Error", int64(data.Error), c.Bad),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	return b.String()
}

func (m StatsModel) renderStatsMetrics() string {
	data, ok := m.data.(*metrics.Snapshot)
	if !ok {
		return "Invalid data type for stats_metrics"
	}

	c := m.theme.Colors
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Server Metrics (%s)", data.StorageBackend)))
	b.WriteString("\n\n")

	units := []string{
		m.renderStatBox("Received", data.UnitsReceived, c.Info),
		m.renderStatBox("Rejected", data.UnitsRejected, c.Warn),
		m.renderStatBox("Stored", data.BytesStored, c.Accent),
	}
	finalize := []string{
		m.renderStatBox("Finalized", data.FinalizeSuccess, c.Good),
		m.renderStatBox("Failed", data.FinalizeFailure, c.Bad),
		m.renderStatBox("Mismatch", data.FinalizeSizeMismatch, c.Bad),
		m.renderStatBox("Storage Err", data.StorageErrors, c.Bad),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, units...))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, finalize...))

	if len(data.RejectedByReason) > 0 {
		b.WriteString("\n\n")
		b.WriteString(m.theme.Title.Render("Rejections"))
		b.WriteString("\n")
		reasons := make([]string, 0, len(data.RejectedByReason))
		for reason := range data.RejectedByReason {
			reasons = append(reasons, reason)
		}
		slices.Sort(reasons)
		for _, reason := range reasons {
			m.theme.field(&b, reason, m.theme.Value.Render(fmt.Sprintf("%d", data.RejectedByReason[reason])))
		}
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.TerminalColor) string {
	valueStr := m.theme.StatValue.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := m.theme.StatLabel.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return m.theme.StatBox.BorderForeground(color).Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any, theme Theme) error {
	model := NewStatsModel(viewType, data, theme)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data, DefaultTheme())
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
