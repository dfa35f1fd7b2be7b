package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/reader"
	"github.com/pithecene-io/tessera/cli/render"
	"github.com/pithecene-io/tessera/cli/tui"
	"github.com/pithecene-io/tessera/store"
)

// InspectCommand returns the inspect command.
// Inspect returns a deep view of a single stored artifact.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a stored artifact: units, gaps and finalize history",
		ArgsUsage: "<artifact-id>",
		Flags:     withCommon(append(TUIReadOnlyFlags(), StorageFlags()...)...),
		Action:    inspectAction,
	}
}

// storeReader opens storage from flags and config for a read-only command.
func storeReader(c *cli.Context) (*reader.StoreReader, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	storage := resolveStorage(c, cfg)
	if err := storage.validate(); err != nil {
		return nil, err
	}
	st, ledger, err := openStorage(c.Context, storage, store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return reader.NewStoreReader(st, ledger), nil
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("artifact-id required", 1)
	}
	artifactID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rd, err := storeReader(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	resp, err := rd.InspectArtifact(c.Context, artifactID)
	if errors.Is(err, store.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("artifact %q not found", artifactID), 1)
	}
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectArtifact, resp)
	}
	return r.Render(resp)
}
