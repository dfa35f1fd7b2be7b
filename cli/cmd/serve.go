package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/adapter"
	"github.com/pithecene-io/tessera/adapter/redis"
	"github.com/pithecene-io/tessera/adapter/webhook"
	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/server"
	"github.com/pithecene-io/tessera/store"
)

// shutdownTimeout bounds draining in-flight requests on exit.
const shutdownTimeout = 30 * time.Second

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the upload server",
		Flags: withCommon(append(StorageFlags(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "TCP listen address",
				Value: server.DefaultAddr,
			},
			&cli.BoolFlag{
				Name:  "retain-units",
				Usage: "Keep unit objects after a successful finalize",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "max-unit-bytes",
				Usage: "Largest accepted upload body",
				Value: "64MiB",
			},
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Finalize notification adapter: webhook or redis (default: none)",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook endpoint or Redis URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
				Value: redis.DefaultChannel,
			},
			&cli.StringFlag{
				Name:  "adapter-stream",
				Usage: "Redis stream that also receives every event (default: none)",
			},
			&cli.StringFlag{
				Name:    "adapter-secret",
				Usage:   "HMAC-SHA256 key for webhook signatures",
				EnvVars: []string{"TESSERA_WEBHOOK_SECRET"},
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as Key=Value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-publish timeout (default: adapter specific)",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retries after the first attempt",
				Value: webhook.DefaultRetries,
			},
		)...),
		Action: serveAction,
	}
}

// builtServer is a server and the pieces tests look at.
type builtServer struct {
	server  *server.Server
	handler *server.Handler
	store   *store.ChunkStore
	ledger  *store.Ledger
	metrics *metrics.Collector
}

// buildServer resolves flags and config into a ready, unstarted server.
func buildServer(ctx context.Context, c *cli.Context, cfg *config.Config, logger *log.Logger) (*builtServer, error) {
	sc := configVal(cfg, func(c *config.Config) config.ServerConfig { return c.Server })

	storage := resolveStorage(c, cfg)
	if err := storage.validate(); err != nil {
		return nil, err
	}
	maxUnit, err := resolveByteSize(c, "max-unit-bytes", sc.MaxUnitBytes)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector("server", storage.backend, "")
	st, ledger, err := openStorage(ctx, storage, store.Options{
		RetainUnits: resolveBoolPtr(c, "retain-units", sc.RetainUnits),
		Logger:      logger,
		Metrics:     collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	notifier, err := buildAdapter(c, cfg)
	if err != nil {
		return nil, err
	}

	handler := server.NewHandler(st, server.Options{
		MaxUnitBytes: int64(maxUnit),
		Adapter:      notifier,
		Ledger:       ledger,
		Logger:       logger,
		Metrics:      collector,
	})
	srv, err := server.New(server.Config{
		Addr:   resolveString(c, "listen", sc.Listen),
		Logger: logger,
	}, handler)
	if err != nil {
		return nil, err
	}
	return &builtServer{
		server:  srv,
		handler: handler,
		store:   st,
		ledger:  ledger,
		metrics: collector,
	}, nil
}

// buildAdapter returns the configured finalize notifier, or nil when none
// is selected.
func buildAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	ac := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })

	kind := resolveString(c, "adapter", ac.Type)
	url := resolveString(c, "adapter-url", ac.URL)
	timeout := resolveDuration(c, "adapter-timeout", ac.Timeout.Duration)
	retries := resolveIntPtr(c, "adapter-retries", ac.Retries)

	switch kind {
	case "":
		return nil, nil
	case "webhook":
		if url == "" {
			return nil, fmt.Errorf("--adapter-url is required for the webhook adapter")
		}
		headers, err := parseHeaders(ac.Headers, c.StringSlice("adapter-header"))
		if err != nil {
			return nil, err
		}
		return webhook.New(webhook.Config{
			URL:     url,
			Headers: headers,
			Secret:  resolveString(c, "adapter-secret", ac.Secret),
			Timeout: timeout,
			Retries: retries,
		})
	case "redis":
		if url == "" {
			return nil, fmt.Errorf("--adapter-url is required for the redis adapter")
		}
		return redis.New(redis.Config{
			URL:     url,
			Channel: resolveString(c, "adapter-channel", ac.Channel),
			Stream:  resolveString(c, "adapter-stream", ac.Stream),
			Timeout: timeout,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("--adapter must be webhook or redis, got %q", kind)
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	logger, err := newLogger(c, cfg, "server")
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := buildServer(ctx, c, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := built.server.Start(); err != nil {
		return cli.Exit(err.Error(), exitUnitsFailed)
	}

	waitErr := built.server.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := built.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", map[string]any{"error": err.Error()})
	}

	if waitErr != nil && ctx.Err() == nil {
		return cli.Exit(fmt.Sprintf("server stopped: %v", waitErr), exitUnitsFailed)
	}
	return nil
}
