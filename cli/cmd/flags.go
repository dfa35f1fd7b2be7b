// Package cmd provides CLI commands for the tessera binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/chunker"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (inspect, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ConfigFlag points at a tessera.yaml file. Without it, tessera.yaml in
// the working directory is used when present.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to a tessera.yaml config file",
	EnvVars: []string{"TESSERA_CONFIG"},
}

// LogLevelFlag sets the minimum log level.
var LogLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Usage: "Log level: debug, info, warn, error",
	Value: "info",
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// StorageFlags returns the flags selecting a storage backend.
func StorageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Storage backend: fs, memory or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Storage path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint URL for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "storage-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

// ChunkingFlags returns the content-detection flags of chunk and upload.
func ChunkingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "window",
			Usage: "Detection window size (e.g. 4096, 64KiB, 1MiB)",
			Value: "1MiB",
		},
		&cli.Float64Flag{
			Name:  "threshold",
			Usage: "Cut threshold in [0, 1]",
			Value: chunker.DefaultThreshold,
		},
		&cli.StringFlag{
			Name:  "corpus",
			Usage: "Training corpus file (default: the file itself)",
		},
	}
}

// withCommon appends the config and log-level flags to flags.
func withCommon(flags ...cli.Flag) []cli.Flag {
	return append(flags, ConfigFlag, LogLevelFlag)
}
