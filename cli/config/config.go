package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a tessera.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Transfer TransferConfig `yaml:"transfer"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// ChunkingConfig holds content-boundary detection defaults.
type ChunkingConfig struct {
	WindowSize int `yaml:"window_size"`
	// Threshold is a pointer so an explicit 0 differs from unset.
	Threshold *float64 `yaml:"threshold,omitempty"`
	// Corpus is the training file; empty trains on the source itself.
	Corpus string `yaml:"corpus"`
}

// TransferConfig holds upload client defaults.
type TransferConfig struct {
	Endpoint            string            `yaml:"endpoint"`
	MinSize             ByteSize          `yaml:"min_size"`
	MaxSize             ByteSize          `yaml:"max_size"`
	InitialSize         ByteSize          `yaml:"initial_size"`
	SizeTiers           []TierConfig      `yaml:"size_tiers,omitempty"`
	ThroughputThreshold ByteSize          `yaml:"throughput_threshold"`
	Parallelism         int               `yaml:"parallelism"`
	MaxRetries          *int              `yaml:"max_retries,omitempty"`
	BackoffBase         Duration          `yaml:"backoff_base"`
	Timeout             Duration          `yaml:"timeout"`
	RateLimit           ByteSize          `yaml:"rate_limit"`
	Compression         string            `yaml:"compression"`
	Headers             map[string]string `yaml:"headers,omitempty"`
}

// TierConfig maps sources shorter than Below to an initial unit Size.
type TierConfig struct {
	Below ByteSize `yaml:"below"`
	Size  ByteSize `yaml:"size"`
}

// ServerConfig holds serve defaults.
type ServerConfig struct {
	Listen       string   `yaml:"listen"`
	RetainUnits  *bool    `yaml:"retain_units,omitempty"`
	MaxUnitBytes ByteSize `yaml:"max_unit_bytes"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds finalize notification defaults.
type AdapterConfig struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel,omitempty"`
	// Stream is a Redis stream that also receives every event.
	Stream string `yaml:"stream,omitempty"`
	// Secret signs webhook bodies.
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Validate checks values that can be judged without the rest of the CLI.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Chunking.Threshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("chunking.threshold must be in [0, 1], got %v", *t))
	}
	if c.Chunking.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("chunking.window_size must not be negative, got %d", c.Chunking.WindowSize))
	}
	switch c.Transfer.Compression {
	case "", "identity", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("transfer.compression must be identity, lz4 or zstd, got %q", c.Transfer.Compression))
	}
	switch c.Storage.Backend {
	case "", "fs", "memory", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be fs, memory or s3, got %q", c.Storage.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for adapter.type %q", c.Adapter.Type))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ByteSize is a byte count written as a plain integer or with a binary
// unit suffix: 512, 128KiB, 1MiB, 2GiB.
type ByteSize int64

var byteUnits = []struct {
	suffix string
	factor int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"B", 1},
}

// ParseByteSize parses s as a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	factor := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			factor = u.factor
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("byte size must not be negative, got %d", n)
	}
	return ByteSize(n * factor), nil
}

// UnmarshalYAML accepts integers and suffixed strings.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", value.Line)
	}
	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int returns the size as an int.
func (b ByteSize) Int() int {
	return int(b)
}
