package tui

import (
	"fmt"
	"slices"
	"strings"
)

// Views with an interactive rendering.
const (
	ViewInspectArtifact = "inspect_artifact"
	ViewStatsFinalize   = "stats_finalize"
	ViewStatsMetrics    = "stats_metrics"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any, theme Theme) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	if strings.HasPrefix(viewType, "inspect_") {
		return RunInspectTUI(viewType, data, theme)
	}
	return RunStatsTUI(viewType, data, theme)
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only inspect and stats views do.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{
		ViewInspectArtifact,
		ViewStatsFinalize,
		ViewStatsMetrics,
	}
}
