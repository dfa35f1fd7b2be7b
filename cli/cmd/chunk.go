package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/chunker"
	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/cli/render"
	"github.com/pithecene-io/tessera/markov"
)

// ChunkItem is one entry of a chunk plan.
type ChunkItem struct {
	Index       int    `json:"index"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Size        int    `json:"size"`
	Fingerprint string `json:"fingerprint"`
}

// ChunkPlanResponse is the content-defined chunk plan of one file.
type ChunkPlanResponse struct {
	File       string      `json:"file"`
	Size       int         `json:"size"`
	WindowSize int         `json:"window_size"`
	Threshold  float64     `json:"threshold"`
	Corpus     string      `json:"corpus"`
	Symbols    int         `json:"symbols"`
	Chunks     []ChunkItem `json:"chunks"`
}

// ChunkCommand returns the chunk command.
// Chunk is read-only: it prints the plan and uploads nothing.
func ChunkCommand() *cli.Command {
	return &cli.Command{
		Name:      "chunk",
		Usage:     "Print the content-defined chunk plan of a file",
		ArgsUsage: "<file>",
		Flags:     withCommon(append(ReadOnlyFlags(), ChunkingFlags()...)...),
		Action:    chunkAction,
	}
}

func chunkAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("file required", exitConfigError)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for chunk command", exitConfigError)
	}
	path := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	chunking, err := resolveChunking(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	plan, err := buildChunkPlan(src, chunking)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	plan.File = filepath.Base(path)

	if r.Format() == render.FormatTable {
		return r.Render(plan.Chunks)
	}
	return r.Render(plan)
}

// chunkingChoice holds the resolved content-detection settings.
type chunkingChoice struct {
	window    int
	threshold float64
	// corpus is the training file; empty trains on the source.
	corpus string
}

func resolveChunking(c *cli.Context, cfg *config.Config) (chunkingChoice, error) {
	cc := configVal(cfg, func(c *config.Config) config.ChunkingConfig { return c.Chunking })

	window, err := resolveByteSize(c, "window", config.ByteSize(cc.WindowSize))
	if err != nil {
		return chunkingChoice{}, err
	}
	threshold := c.Float64("threshold")
	if !c.IsSet("threshold") && cc.Threshold != nil {
		threshold = *cc.Threshold
	}
	return chunkingChoice{
		window:    window.Int(),
		threshold: threshold,
		corpus:    resolveString(c, "corpus", cc.Corpus),
	}, nil
}

// newDetector trains a model on the corpus (src itself when none is
// set) and returns a detector over it with the corpus display name.
func newDetector(src []byte, ch chunkingChoice) (*chunker.Detector, *markov.Model, string, error) {
	model := markov.New()
	corpusName := "self"
	if ch.corpus == "" {
		model.Train(src)
	} else {
		f, err := os.Open(ch.corpus)
		if err != nil {
			return nil, nil, "", fmt.Errorf("open corpus: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := model.TrainReader(f); err != nil {
			return nil, nil, "", fmt.Errorf("train on corpus: %w", err)
		}
		corpusName = ch.corpus
	}

	detector, err := chunker.NewDetector(model, ch.window, ch.threshold)
	if err != nil {
		return nil, nil, "", err
	}
	return detector, model, corpusName, nil
}

// buildChunkPlan splits src with a detector built from ch.
func buildChunkPlan(src []byte, ch chunkingChoice) (*ChunkPlanResponse, error) {
	detector, model, corpusName, err := newDetector(src, ch)
	if err != nil {
		return nil, err
	}
	chunks, err := chunker.Split(detector, src)
	if err != nil {
		return nil, err
	}

	plan := &ChunkPlanResponse{
		Size:       len(src),
		WindowSize: ch.window,
		Threshold:  ch.threshold,
		Corpus:     corpusName,
		Symbols:    model.Len(),
		Chunks:     make([]ChunkItem, 0, len(chunks)),
	}
	for _, chunk := range chunks {
		plan.Chunks = append(plan.Chunks, ChunkItem{
			Index:       chunk.Index,
			Start:       chunk.Range.Start,
			End:         chunk.Range.End,
			Size:        chunk.Range.Len(),
			Fingerprint: chunk.Fingerprint.String(),
		})
	}
	return plan, nil
}
