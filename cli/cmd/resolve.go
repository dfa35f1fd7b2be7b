package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/log"
)

// loadConfig loads --config, or tessera.yaml from the working directory
// when it exists. No config file yields nil.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		path = config.DefaultPath
	}
	return config.Load(path)
}

// configVal reads a value from cfg, or the zero value when cfg is nil.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set on the command line, the config
// value when non-empty, and the flag default otherwise.
func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

// resolveInt returns the flag when set, otherwise the non-zero config value,
// otherwise the flag default.
func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

// resolveIntPtr is resolveInt for config values where zero is meaningful.
func resolveIntPtr(c *cli.Context, name string, fromConfig *int) int {
	if c.IsSet(name) || fromConfig == nil {
		return c.Int(name)
	}
	return *fromConfig
}

// resolveBool returns the flag when set, otherwise the config value.
func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

// resolveBoolPtr is resolveBool for config values where false is meaningful.
func resolveBoolPtr(c *cli.Context, name string, fromConfig *bool) bool {
	if c.IsSet(name) || fromConfig == nil {
		return c.Bool(name)
	}
	return *fromConfig
}

// resolveDuration returns the flag when set, otherwise the non-zero
// config value, otherwise the flag default.
func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

// resolveByteSize parses a byte-size flag when set, otherwise returns the
// non-zero config value, otherwise the parsed flag default.
func resolveByteSize(c *cli.Context, name string, fromConfig config.ByteSize) (config.ByteSize, error) {
	if !c.IsSet(name) && fromConfig != 0 {
		return fromConfig, nil
	}
	size, err := config.ParseByteSize(c.String(name))
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return size, nil
}

// parseHeaders parses repeated "Key=Value" flags over base. Flag values
// win over base entries with the same key.
func parseHeaders(base map[string]string, values []string) (map[string]string, error) {
	headers := make(map[string]string, len(base)+len(values))
	for k, v := range base {
		headers[k] = v
	}
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed header %q (expected Key=Value)", kv)
		}
		headers[k] = v
	}
	return headers, nil
}

// newLogger creates a component logger at the resolved level.
func newLogger(c *cli.Context, cfg *config.Config, component string) (*log.Logger, error) {
	logger := log.NewLogger(component)
	level := resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel }))
	if err := logger.SetLevel(level); err != nil {
		return nil, err
	}
	return logger, nil
}
