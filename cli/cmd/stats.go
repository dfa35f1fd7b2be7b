package cmd

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/reader"
	"github.com/pithecene-io/tessera/cli/render"
	"github.com/pithecene-io/tessera/cli/tui"
)

// DefaultServerURL is the server root queried by stats metrics.
const DefaultServerURL = "http://127.0.0.1:5000"

const defaultStatsTimeout = 10 * time.Second

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (finalize outcomes, server metrics)",
		Subcommands: []*cli.Command{
			statsFinalizeCommand(),
			statsMetricsCommand(),
		},
	}
}

func statsFinalizeCommand() *cli.Command {
	return &cli.Command{
		Name:   "finalize",
		Usage:  "Count finalize outcomes recorded in the ledger",
		Flags:  withCommon(append(TUIReadOnlyFlags(), StorageFlags()...)...),
		Action: statsFinalizeAction,
	}
}

func statsFinalizeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rd, err := storeReader(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	stats, err := rd.StatsFinalize(c.Context)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsFinalize, stats)
	}
	return r.Render(stats)
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show counters from a running server",
		Flags: append(TUIReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "server",
				Usage: "Server root URL",
				Value: DefaultServerURL,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: defaultStatsTimeout,
			},
		),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	snapshot, err := reader.FetchServerMetrics(ctx, nil, c.String("server"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsMetrics, snapshot)
	}
	return r.Render(snapshot)
}
