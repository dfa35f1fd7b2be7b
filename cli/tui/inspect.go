package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tessera/cli/reader"
)

const timeLayout = "2006-01-02 15:04:05"

// defaultUnitRows is the unit window height before the first resize.
const defaultUnitRows = 10

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	theme    Theme
	width    int
	height   int
	// offset is the first visible unit row.
	offset   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any, theme Theme) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
		theme:    theme,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.offset = min(m.offset, m.maxOffset())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Down):
			m.offset = min(m.offset+1, m.maxOffset())
		case key.Matches(msg, keys.Up):
			m.offset = max(m.offset-1, 0)
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectArtifact:
		content = m.renderInspectArtifact()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := m.theme.Help.Render("↑/↓ scroll units • q quit")
	return content + "\n" + help
}

// unitRows is the number of unit rows that fit the window.
func (m InspectModel) unitRows() int {
	if m.height == 0 {
		return defaultUnitRows
	}
	// Header fields, history and borders take roughly 20 lines.
	return max(m.height-20, 3)
}

func (m InspectModel) maxOffset() int {
	data, ok := m.data.(*reader.InspectArtifactResponse)
	if !ok {
		return 0
	}
	return max(len(data.Units)-m.unitRows(), 0)
}

func (m InspectModel) renderInspectArtifact() string {
	data, ok := m.data.(*reader.InspectArtifactResponse)
	if !ok {
		return "Invalid data type for inspect_artifact"
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Artifact " + data.ArtifactID))
	b.WriteString("\n\n")

	m.theme.field(&b, "State", m.theme.State(data.State).Render(data.State))
	m.theme.field(&b, "Units", m.theme.Value.Render(fmt.Sprintf("%d", data.UnitCount)))
	m.theme.field(&b, "Stored", m.theme.Value.Render(formatBytes(data.StoredBytes)))
	if len(data.Gaps) > 0 {
		m.theme.field(&b, "Gaps", m.theme.State("pending").Render(formatIndices(data.Gaps)))
	}
	if data.FinalizedAt != nil {
		m.theme.field(&b, "Finalized", m.theme.Value.Render(data.FinalizedAt.Format(timeLayout)))
		m.theme.field(&b, "Fingerprint", m.theme.Value.Render(shorten(data.Fingerprint, 16)))
	}

	if len(data.Units) > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.Title.Render("Units"))
		b.WriteString("\n")
		end := min(m.offset+m.unitRows(), len(data.Units))
		for _, u := range data.Units[m.offset:end] {
			b.WriteString(fmt.Sprintf("  %6d  %10s  %-8s %s\n",
				u.Index, formatBytes(u.Size), u.Encoding, shorten(u.Fingerprint, 12)))
		}
		if len(data.Units) > end-m.offset {
			b.WriteString(m.theme.Help.Render(fmt.Sprintf("  %d-%d of %d", m.offset+1, end, len(data.Units))))
			b.WriteString("\n")
		}
	}

	if len(data.History) > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.Title.Render("Finalize History"))
		b.WriteString("\n")
		for _, e := range data.History {
			line := fmt.Sprintf("  %s  %-14s %s/%s",
				e.FinalizedAt.Format(timeLayout),
				e.Outcome,
				formatBytes(e.Written),
				formatBytes(e.Expected))
			b.WriteString(m.theme.State(e.Outcome).Render(line))
			b.WriteString("\n")
		}
	}

	return m.theme.Box.Render(b.String())
}

func (t Theme) field(b *strings.Builder, label, value string) {
	b.WriteString(fmt.Sprintf("%s %s\n", t.Label.Render(label+":"), value))
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatIndices lists up to five indices and counts the rest.
func formatIndices(indices []int64) string {
	const shown = 5
	parts := make([]string, 0, shown)
	for i, idx := range indices {
		if i == shown {
			parts = append(parts, fmt.Sprintf("+%d more", len(indices)-shown))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	return strings.Join(parts, ", ")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any, theme Theme) error {
	model := NewInspectModel(viewType, data, theme)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data, DefaultTheme())
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
