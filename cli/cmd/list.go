package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pithecene-io/tessera/cli/render"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a terminal.
func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// ListCommand returns the list command.
// List returns thin slices (not inspect-level detail).
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored artifacts",
		Flags: withCommon(append(append(ReadOnlyFlags(), StorageFlags()...),
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: complete, pending, size_mismatch, no_units, error",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of artifacts to return (0 = no limit)",
				Value: 0,
			},
		)...),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list", 1)
	}
	if c.Int("limit") < 0 {
		return cli.Exit("--limit must not be negative", exitConfigError)
	}

	rd, err := storeReader(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	items, err := rd.ListArtifacts(c.Context)
	if err != nil {
		return err
	}

	if state := c.String("state"); state != "" {
		filtered := items[:0]
		for _, item := range items {
			if item.State == state {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	limit := c.Int("limit")
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	// Warn on large output without --limit (TTY only to avoid noise in pipelines)
	if len(items) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(items))
	}

	return r.Render(items)
}
