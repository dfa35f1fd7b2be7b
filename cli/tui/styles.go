// Package tui provides Bubble Tea views for the tessera CLI.
//
// TUI mode is opt-in (--tui) and limited to the read-only inspect and
// stats commands. Views render the same payloads as json, yaml and table
// output and never fetch data of their own.
package tui

import "github.com/charmbracelet/lipgloss"

// Palette holds the colors a Theme is built from.
type Palette struct {
	Accent  lipgloss.TerminalColor
	Good    lipgloss.TerminalColor
	Warn    lipgloss.TerminalColor
	Bad     lipgloss.TerminalColor
	Muted   lipgloss.TerminalColor
	Info    lipgloss.TerminalColor
	Default lipgloss.TerminalColor
}

var colorPalette = Palette{
	Accent:  lipgloss.Color("#7C3AED"),
	Good:    lipgloss.Color("#10B981"),
	Warn:    lipgloss.Color("#F59E0B"),
	Bad:     lipgloss.Color("#EF4444"),
	Muted:   lipgloss.Color("#6B7280"),
	Info:    lipgloss.Color("#3B82F6"),
	Default: lipgloss.Color("#FFFFFF"),
}

var plainPalette = Palette{
	Accent:  lipgloss.NoColor{},
	Good:    lipgloss.NoColor{},
	Warn:    lipgloss.NoColor{},
	Bad:     lipgloss.NoColor{},
	Muted:   lipgloss.NoColor{},
	Info:    lipgloss.NoColor{},
	Default: lipgloss.NoColor{},
}

// Theme is the set of styles every view renders with.
type Theme struct {
	Colors Palette

	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Help  lipgloss.Style
	Box   lipgloss.Style

	StatBox   lipgloss.Style
	StatLabel lipgloss.Style
	StatValue lipgloss.Style
}

// DefaultTheme is the colored theme.
func DefaultTheme() Theme { return newTheme(colorPalette) }

// PlainTheme keeps layout and emphasis but drops all color (--no-color).
func PlainTheme() Theme { return newTheme(plainPalette) }

// ThemeFor picks PlainTheme when noColor is set.
func ThemeFor(noColor bool) Theme {
	if noColor {
		return PlainTheme()
	}
	return DefaultTheme()
}

func newTheme(p Palette) Theme {
	return Theme{
		Colors: p,
		Title:  lipgloss.NewStyle().Bold(true).Foreground(p.Accent).MarginBottom(1),
		Label:  lipgloss.NewStyle().Foreground(p.Muted).Width(14),
		Value:  lipgloss.NewStyle().Foreground(p.Default),
		Help:   lipgloss.NewStyle().Foreground(p.Muted).MarginTop(1),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Muted).
			Padding(1, 2),
		StatBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center),
		StatLabel: lipgloss.NewStyle().Foreground(p.Muted).Align(lipgloss.Center),
		StatValue: lipgloss.NewStyle().Bold(true).Align(lipgloss.Center),
	}
}

// State styles an artifact state, unit status or finalize outcome.
func (t Theme) State(state string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.stateColor(state))
}

func (t Theme) stateColor(state string) lipgloss.TerminalColor {
	switch state {
	case "complete", "uploaded":
		return t.Colors.Good
	case "pending", "partial", "skipped":
		return t.Colors.Warn
	case "size_mismatch", "no_units", "error", "failed", "finalize_failed":
		return t.Colors.Bad
	default:
		return t.Colors.Default
	}
}
