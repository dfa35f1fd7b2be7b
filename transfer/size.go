package transfer

import (
	"fmt"
	"sync"

	"github.com/pithecene-io/tessera/wire"
)

// Unit size tiers and bounds.
const (
	KiB = 1024
	MiB = 1024 * KiB

	// DefaultMinSize is the smallest unit the controller shrinks to.
	DefaultMinSize = 128 * KiB
	// DefaultMaxSize is the largest unit the controller grows to.
	DefaultMaxSize = 50 * MiB
	// DefaultThroughputThreshold separates fast from slow attempts (bytes/s).
	DefaultThroughputThreshold = 1 * MiB
	// DefaultGrow multiplies the size after a fast attempt.
	DefaultGrow = 1.2
	// DefaultShrink multiplies the size after a slow attempt.
	DefaultShrink = 0.8
)

// Tier maps sources shorter than Below bytes to an initial unit Size.
type Tier struct {
	Below int64 `yaml:"below" json:"below"`
	Size  int   `yaml:"size" json:"size"`
}

// DefaultTiers picks smaller initial units for smaller sources. Sources
// at or above the last Below start at DefaultMaxSize.
var DefaultTiers = []Tier{
	{Below: 1 * MiB, Size: 128 * KiB},
	{Below: 10 * MiB, Size: 1 * MiB},
	{Below: 50 * MiB, Size: 5 * MiB},
	{Below: 100 * MiB, Size: 10 * MiB},
	{Below: 200 * MiB, Size: 20 * MiB},
}

// SizeConfig configures a SizeController.
type SizeConfig struct {
	Min int
	Max int
	// Initial fixes the starting size. Zero selects a tier by source length.
	Initial int
	// ThroughputThreshold is in bytes per second.
	ThroughputThreshold float64
	Grow                float64
	Shrink              float64
	// Tiers must be ordered by ascending Below. Nil uses DefaultTiers.
	Tiers []Tier
}

// DefaultSizeConfig returns the default controller settings.
func DefaultSizeConfig() SizeConfig {
	return SizeConfig{
		Min:                 DefaultMinSize,
		Max:                 DefaultMaxSize,
		ThroughputThreshold: DefaultThroughputThreshold,
		Grow:                DefaultGrow,
		Shrink:              DefaultShrink,
	}
}

// Validate checks bounds and factors. Max may not exceed
// wire.MaxUnitSize, the largest body a server accepts by default.
func (c *SizeConfig) Validate() error {
	switch {
	case c.Min <= 0:
		return fmt.Errorf("%w: min size must be positive, got %d", ErrInvalidConfig, c.Min)
	case c.Max < c.Min:
		return fmt.Errorf("%w: max size %d below min size %d", ErrInvalidConfig, c.Max, c.Min)
	case c.Max > wire.MaxUnitSize:
		return fmt.Errorf("%w: max size %d exceeds the %d byte unit limit", ErrInvalidConfig, c.Max, wire.MaxUnitSize)
	case c.Initial < 0:
		return fmt.Errorf("%w: initial size must not be negative, got %d", ErrInvalidConfig, c.Initial)
	case c.ThroughputThreshold < 0:
		return fmt.Errorf("%w: throughput threshold must not be negative", ErrInvalidConfig)
	case c.Grow < 1:
		return fmt.Errorf("%w: grow factor must be >= 1, got %v", ErrInvalidConfig, c.Grow)
	case c.Shrink <= 0 || c.Shrink > 1:
		return fmt.Errorf("%w: shrink factor must be in (0, 1], got %v", ErrInvalidConfig, c.Shrink)
	}
	for i := 1; i < len(c.Tiers); i++ {
		if c.Tiers[i].Below <= c.Tiers[i-1].Below {
			return fmt.Errorf("%w: size tiers must be ordered by ascending bound", ErrInvalidConfig)
		}
	}
	return nil
}

// SizeController holds the adaptive unit size. The size always lies in
// [Min, Max]. All reads and updates go through one mutex.
type SizeController struct {
	mu   sync.Mutex
	cfg  SizeConfig
	size int
}

// NewSizeController creates a controller starting at cfg.Initial, or at
// cfg.Min when no initial size is fixed. Use Start to pick a tier.
func NewSizeController(cfg SizeConfig) (*SizeController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers
	}
	c := &SizeController{cfg: cfg}
	c.size = c.clamp(cfg.Min)
	if cfg.Initial > 0 {
		c.size = c.clamp(cfg.Initial)
	}
	return c, nil
}

// InitialSizeFor returns the starting size for a source of total bytes:
// the fixed initial size when configured, otherwise the first tier whose
// bound exceeds total, clamped to the controller bounds.
func (c *SizeController) InitialSizeFor(total int64) int {
	if c.cfg.Initial > 0 {
		return c.clamp(c.cfg.Initial)
	}
	for _, t := range c.cfg.Tiers {
		if total < t.Below {
			return c.clamp(t.Size)
		}
	}
	return c.clamp(DefaultMaxSize)
}

// Start resets the size to InitialSizeFor(total) and returns it.
func (c *SizeController) Start(total int64) int {
	size := c.InitialSizeFor(total)
	c.mu.Lock()
	c.size = size
	c.mu.Unlock()
	return size
}

// Observe applies one throughput measurement (bytes/s) and returns the
// new size: above the threshold the size grows by Grow up to Max,
// otherwise it shrinks by Shrink down to Min. The result is truncated to
// an integer.
func (c *SizeController) Observe(throughput float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := float64(c.size)
	if throughput > c.cfg.ThroughputThreshold {
		next = min(next*c.cfg.Grow, float64(c.cfg.Max))
	} else {
		next = max(next*c.cfg.Shrink, float64(c.cfg.Min))
	}
	c.size = int(next)
	return c.size
}

// Size returns the current unit size.
func (c *SizeController) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Bounds returns the configured minimum and maximum sizes.
func (c *SizeController) Bounds() (lo, hi int) {
	return c.cfg.Min, c.cfg.Max
}

func (c *SizeController) clamp(size int) int {
	return min(max(size, c.cfg.Min), c.cfg.Max)
}
