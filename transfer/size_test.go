package transfer

import (
	"errors"
	"sync"
	"testing"

	"github.com/pithecene-io/tessera/wire"
)

func mustController(t *testing.T, cfg SizeConfig) *SizeController {
	t.Helper()
	c, err := NewSizeController(cfg)
	if err != nil {
		t.Fatalf("NewSizeController failed: %v", err)
	}
	return c
}

func TestSizeConfig_Validate(t *testing.T) {
	valid := DefaultSizeConfig()
	tests := []struct {
		name   string
		mutate func(*SizeConfig)
	}{
		{"zero min", func(c *SizeConfig) { c.Min = 0 }},
		{"max below min", func(c *SizeConfig) { c.Max = c.Min - 1 }},
		{"max above unit limit", func(c *SizeConfig) { c.Max = wire.MaxUnitSize + 1 }},
		{"negative initial", func(c *SizeConfig) { c.Initial = -1 }},
		{"negative threshold", func(c *SizeConfig) { c.ThroughputThreshold = -1 }},
		{"grow below one", func(c *SizeConfig) { c.Grow = 0.9 }},
		{"zero shrink", func(c *SizeConfig) { c.Shrink = 0 }},
		{"shrink above one", func(c *SizeConfig) { c.Shrink = 1.5 }},
		{"unordered tiers", func(c *SizeConfig) { c.Tiers = []Tier{{Below: 10, Size: 1}, {Below: 5, Size: 2}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewSizeController(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
	if _, err := NewSizeController(valid); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestInitialSizeFor_Tiers(t *testing.T) {
	c := mustController(t, DefaultSizeConfig())

	tests := []struct {
		total int64
		want  int
	}{
		{0, 128 * KiB},
		{MiB - 1, 128 * KiB},
		{MiB, 1 * MiB},
		{10*MiB - 1, 1 * MiB},
		{10 * MiB, 5 * MiB},
		{50 * MiB, 10 * MiB},
		{100 * MiB, 20 * MiB},
		{199 * MiB, 20 * MiB},
		{200 * MiB, 50 * MiB},
		{10 << 30, 50 * MiB},
	}
	for _, tt := range tests {
		if got := c.InitialSizeFor(tt.total); got != tt.want {
			t.Errorf("InitialSizeFor(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestInitialSizeFor_ClampedAndFixed(t *testing.T) {
	cfg := DefaultSizeConfig()
	cfg.Min = 2 * MiB
	cfg.Max = 8 * MiB
	c := mustController(t, cfg)
	if got := c.InitialSizeFor(100); got != 2*MiB {
		t.Errorf("small tier not clamped to min: %d", got)
	}
	if got := c.InitialSizeFor(1 << 40); got != 8*MiB {
		t.Errorf("giant tier not clamped to max: %d", got)
	}

	cfg.Initial = 3 * MiB
	fixed := mustController(t, cfg)
	if got := fixed.Size(); got != 3*MiB {
		t.Errorf("Size = %d, want fixed initial", got)
	}
	if got := fixed.Start(1 << 40); got != 3*MiB {
		t.Errorf("Start with fixed initial = %d", got)
	}
}

func TestObserve_GrowAndShrink(t *testing.T) {
	cfg := SizeConfig{Min: 100, Max: 1000, Initial: 500, ThroughputThreshold: 1000, Grow: 1.2, Shrink: 0.8}
	c := mustController(t, cfg)

	if got := c.Observe(1001); got != 600 {
		t.Errorf("grow: got %d, want 600", got)
	}
	// At the threshold counts as slow.
	if got := c.Observe(1000); got != 480 {
		t.Errorf("shrink: got %d, want 480", got)
	}
	if got := c.Size(); got != 480 {
		t.Errorf("Size = %d, want 480", got)
	}
}

func TestObserve_Truncates(t *testing.T) {
	c := mustController(t, SizeConfig{Min: 1, Max: 1000, Initial: 7, Grow: 1.2, Shrink: 0.8})
	// 7 * 1.2 = 8.4 -> 8
	if got := c.Observe(1); got != 8 {
		t.Errorf("got %d, want 8", got)
	}
	// 8 * 0.8 = 6.4 -> 6
	if got := c.Observe(0); got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

func TestObserve_StaysWithinBounds(t *testing.T) {
	cfg := DefaultSizeConfig()
	c := mustController(t, cfg)
	lo, hi := c.Bounds()

	speeds := []float64{0, 5e9, 5e9, 1, 2e6, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for range 60 {
		speeds = append(speeds, 1e12)
	}
	for i, s := range speeds {
		size := c.Observe(s)
		if size < lo || size > hi {
			t.Fatalf("step %d: size %d outside [%d, %d]", i, size, lo, hi)
		}
	}
	if c.Size() != hi {
		t.Errorf("sustained fast attempts should reach max: %d", c.Size())
	}
	for range 60 {
		c.Observe(0)
	}
	if c.Size() != lo {
		t.Errorf("sustained slow attempts should reach min: %d", c.Size())
	}
}

func TestObserve_Concurrent(t *testing.T) {
	c := mustController(t, SizeConfig{Min: 10, Max: 1 << 30, Initial: 10, Grow: 1.2, Shrink: 0.8})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				c.Observe(1)
				_ = c.Size()
			}
		}()
	}
	wg.Wait()

	lo, hi := c.Bounds()
	if s := c.Size(); s < lo || s > hi {
		t.Errorf("size %d outside bounds", s)
	}
}

func TestState_Snapshot(t *testing.T) {
	s := NewState(mustController(t, SizeConfig{Min: 1, Max: 10, Initial: 5, Grow: 1, Shrink: 1}))
	s.unitStarted()
	s.unitStarted()
	s.unitStarted()
	s.attemptMade()
	s.attemptMade()
	s.unitFinished(outcomeUploaded, 5)
	s.unitFinished(outcomeFailed, 0)

	snap := s.Snapshot()
	if snap.UnitSize != 5 || snap.Attempted != 2 || snap.Outstanding != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Succeeded != 1 || snap.Failed != 1 || snap.Bytes != 5 {
		t.Errorf("snapshot = %+v", snap)
	}
}
