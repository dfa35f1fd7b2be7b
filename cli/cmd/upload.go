package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/cli/render"
	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/transfer"
	"github.com/pithecene-io/tessera/types"
	"github.com/pithecene-io/tessera/wire"
)

// Exit codes for upload.
const (
	exitComplete    = 0
	exitUnitsFailed = 1
	exitConfigError = 2
	exitIntegrity   = 3
)

// DefaultEndpoint is the upload URL used when none is configured.
const DefaultEndpoint = "http://127.0.0.1:5000/upload"

// UploadCommand returns the upload command.
// This is the only command that sends data.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a file in adaptive parallel units and finalize it",
		ArgsUsage: "<file>",
		Flags: withCommon(append(ChunkingFlags(),
			FormatFlag,
			NoColorFlag,
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Upload URL; finalize goes to the sibling /finalize path",
				Value: DefaultEndpoint,
			},
			&cli.StringFlag{
				Name:  "artifact-id",
				Usage: "Artifact identifier (default: the file's base name)",
			},
			&cli.StringFlag{
				Name:  "min-size",
				Usage: "Smallest unit size",
				Value: "128KiB",
			},
			&cli.StringFlag{
				Name:  "max-size",
				Usage: "Largest unit size",
				Value: "50MiB",
			},
			&cli.StringFlag{
				Name:  "initial-size",
				Usage: "Starting unit size (default: chosen by file size)",
			},
			&cli.StringFlag{
				Name:  "throughput-threshold",
				Usage: "Per-second throughput above which units grow",
				Value: "1MiB",
			},
			&cli.IntFlag{
				Name:  "parallelism",
				Usage: "Concurrent unit uploads",
				Value: transfer.DefaultParallelism,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Retries per unit after the first attempt",
				Value: transfer.DefaultMaxRetries,
			},
			&cli.DurationFlag{
				Name:  "backoff",
				Usage: "Delay before the first retry; doubles per retry",
				Value: transfer.DefaultBackoffBase,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
				Value: transfer.DefaultTimeout,
			},
			&cli.StringFlag{
				Name:  "rate-limit",
				Usage: "Bandwidth cap per second (e.g. 10MiB); empty disables",
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "Unit wire encoding: identity, lz4 or zstd",
				Value: string(wire.EncodingIdentity),
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Extra request header as Key=Value (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		)...),
		Action: uploadAction,
	}
}

// uploadChoice holds the resolved upload configuration.
type uploadChoice struct {
	client   transfer.ClientConfig
	session  transfer.SessionConfig
	chunking chunkingChoice
}

func resolveUpload(c *cli.Context, cfg *config.Config, path string) (*uploadChoice, error) {
	tc := configVal(cfg, func(c *config.Config) config.TransferConfig { return c.Transfer })

	artifactID := c.String("artifact-id")
	if artifactID == "" {
		artifactID = filepath.Base(path)
	}

	size := transfer.DefaultSizeConfig()
	for _, f := range []struct {
		name string
		cfg  config.ByteSize
		dst  *int
	}{
		{"min-size", tc.MinSize, &size.Min},
		{"max-size", tc.MaxSize, &size.Max},
		{"initial-size", tc.InitialSize, &size.Initial},
	} {
		v, err := resolveByteSize(c, f.name, f.cfg)
		if err != nil {
			return nil, err
		}
		*f.dst = v.Int()
	}
	threshold, err := resolveByteSize(c, "throughput-threshold", tc.ThroughputThreshold)
	if err != nil {
		return nil, err
	}
	size.ThroughputThreshold = float64(threshold)
	if len(tc.SizeTiers) > 0 {
		size.Tiers = make([]transfer.Tier, 0, len(tc.SizeTiers))
		for _, t := range tc.SizeTiers {
			size.Tiers = append(size.Tiers, transfer.Tier{Below: int64(t.Below), Size: t.Size.Int()})
		}
	}
	if err := size.Validate(); err != nil {
		return nil, err
	}

	encoding, err := wire.ParseEncoding(resolveString(c, "compression", tc.Compression))
	if err != nil {
		return nil, err
	}
	rateLimit, err := resolveByteSize(c, "rate-limit", tc.RateLimit)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(tc.Headers, c.StringSlice("header"))
	if err != nil {
		return nil, err
	}

	chunking, err := resolveChunking(c, cfg)
	if err != nil {
		return nil, err
	}

	coord := transfer.CoordinatorConfig{
		Parallelism: resolveInt(c, "parallelism", tc.Parallelism),
		MaxRetries:  resolveIntPtr(c, "max-retries", tc.MaxRetries),
		BackoffBase: resolveDuration(c, "backoff", tc.BackoffBase.Duration),
	}
	if err := coord.Validate(); err != nil {
		return nil, err
	}

	return &uploadChoice{
		client: transfer.ClientConfig{
			Endpoint:   resolveString(c, "endpoint", tc.Endpoint),
			ArtifactID: artifactID,
			Encoding:   encoding,
			Timeout:    resolveDuration(c, "timeout", tc.Timeout.Duration),
			RateLimit:  rateLimit.Int(),
			Headers:    headers,
		},
		session: transfer.SessionConfig{
			ArtifactID:  artifactID,
			Size:        size,
			Coordinator: coord,
		},
		chunking: chunking,
	}, nil
}

func uploadAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("file required", exitConfigError)
	}
	path := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	choice, err := resolveUpload(c, cfg, path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid upload config: %v", err), exitConfigError)
	}
	logger, err := newLogger(c, cfg, "transfer")
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer func() { _ = logger.Sync() }()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open %s: %v", path, err), exitConfigError)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot stat %s: %v", path, err), exitConfigError)
	}
	if !info.Mode().IsRegular() {
		return cli.Exit(fmt.Sprintf("%s is not a regular file", path), exitConfigError)
	}

	src, err := io.ReadAll(f)
	if err == nil && int64(len(src)) != info.Size() {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read %s: %v", path, err), exitConfigError)
	}
	if err := planBoundaries(choice, src); err != nil {
		return cli.Exit(fmt.Sprintf("invalid chunking config: %v", err), exitConfigError)
	}
	logger.Sugar().Debugf("%s: %d content-defined chunks", path, max(len(choice.session.Boundaries), 1))

	collector := metrics.NewCollector("client", "", string(choice.client.Encoding))
	result, err := runUpload(c.Context, choice, bytes.NewReader(src), int64(len(src)), logger, collector)
	if err != nil && result == nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	if !c.Bool("quiet") {
		if renderErr := r.Render(result); renderErr != nil {
			return renderErr
		}
	}
	if err != nil {
		return cli.Exit(err.Error(), exitUnitsFailed)
	}
	return cli.Exit("", sessionExitCode(result.Status))
}

// planBoundaries runs content detection over src and stores the chunk
// plan in the session config.
func planBoundaries(choice *uploadChoice, src []byte) error {
	detector, _, _, err := newDetector(src, choice.chunking)
	if err != nil {
		return err
	}
	choice.session.Boundaries = detector.Detect(src)
	return nil
}

// runUpload runs one session. The first SIGINT or SIGTERM aborts the
// session so in-flight units drain; a second one cancels them.
func runUpload(parent context.Context, choice *uploadChoice, src io.ReaderAt, size int64, logger *log.Logger, collector *metrics.Collector) (*types.SessionResult, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sessionCfg := choice.session
	if sessionCfg.SessionID == "" {
		sessionCfg.SessionID = uuid.New().String()
	}
	sessionCfg.Logger = logger
	sessionCfg.Metrics = collector
	progress := logger.Sugar().With("session_id", sessionCfg.SessionID)
	sessionCfg.Coordinator.OnResult = func(u types.UnitResult) {
		progress.Debugf("unit %d %s (%d bytes, %d attempts)", u.Index, u.Status, u.Size, u.Attempts)
	}

	clientCfg := choice.client
	clientCfg.SessionID = sessionCfg.SessionID
	client, err := transfer.NewHTTPClient(clientCfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	session, err := transfer.NewSession(sessionCfg, client)
	if err != nil {
		return nil, err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			progress.Warnf("interrupt received, draining in-flight units")
			session.Abort()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			progress.Warnf("second interrupt, cancelling")
			cancel()
		case <-done:
		}
	}()

	return session.Upload(ctx, src, size)
}

// sessionExitCode maps a session status to the upload exit code.
func sessionExitCode(status types.SessionStatus) int {
	switch status {
	case types.SessionComplete:
		return exitComplete
	case types.SessionFinalizeFailed:
		return exitIntegrity
	default:
		return exitUnitsFailed
	}
}
