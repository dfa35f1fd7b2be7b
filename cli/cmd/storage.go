package cmd

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/store"
)

// storageChoice holds the resolved storage configuration.
type storageChoice struct {
	backend   string
	path      string
	region    string
	endpoint  string
	pathStyle bool
}

func resolveStorage(c *cli.Context, cfg *config.Config) storageChoice {
	sc := configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Storage })
	return storageChoice{
		backend:   resolveString(c, "storage-backend", sc.Backend),
		path:      resolveString(c, "storage-path", sc.Path),
		region:    resolveString(c, "storage-region", sc.Region),
		endpoint:  resolveString(c, "storage-endpoint", sc.Endpoint),
		pathStyle: resolveBool(c, "storage-s3-path-style", sc.S3PathStyle),
	}
}

// validate reports missing settings as actionable flag errors.
func (s storageChoice) validate() error {
	switch store.Backend(s.backend) {
	case store.BackendFS, store.BackendS3:
		if s.path == "" {
			return fmt.Errorf("--storage-path is required for the %s backend", s.backend)
		}
	case store.BackendMemory:
	default:
		return fmt.Errorf("--storage-backend must be fs, memory or s3, got %q", s.backend)
	}
	return nil
}

func (s storageChoice) factory(ctx context.Context) (lode.StoreFactory, error) {
	return store.NewFactory(ctx, store.BackendConfig{
		Backend: store.Backend(s.backend),
		Path:    s.path,
		S3: store.S3Config{
			Region:       s.region,
			Endpoint:     s.endpoint,
			UsePathStyle: s.pathStyle,
		},
	})
}

// openStorage opens the chunk store and finalize ledger for read-only
// commands. Both share one backend.
func openStorage(ctx context.Context, s storageChoice, opts store.Options) (*store.ChunkStore, *store.Ledger, error) {
	factory, err := s.factory(ctx)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := store.NewLedger(factory)
	if err != nil {
		return nil, nil, err
	}
	opts.Ledger = ledger
	cs, err := store.New(factory, opts)
	if err != nil {
		return nil, nil, err
	}
	return cs, ledger, nil
}
