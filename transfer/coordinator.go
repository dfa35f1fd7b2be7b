package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/types"
)

// Coordinator defaults.
const (
	DefaultParallelism = 4
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Parallelism bounds concurrent uploads (default 4).
	Parallelism int
	// MaxRetries bounds retries per unit; a unit is attempted at most
	// MaxRetries+1 times (default 3).
	MaxRetries int
	// BackoffBase is the delay before the first retry; retry n waits
	// BackoffBase * 2^n (default 1s).
	BackoffBase time.Duration
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// OnResult is called once per unit when it reaches a terminal state.
	// Calls may come from several goroutines. Optional.
	OnResult func(types.UnitResult)
	// Clock overrides time.Now for throughput measurement.
	Clock func() time.Time
	// Sleep overrides the backoff wait. It must return early with
	// ctx.Err() when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultCoordinatorConfig returns the default coordinator settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Parallelism: DefaultParallelism,
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
	}
}

// Validate checks pool and retry settings.
func (c *CoordinatorConfig) Validate() error {
	switch {
	case c.Parallelism <= 0:
		return fmt.Errorf("%w: parallelism must be positive, got %d", ErrInvalidConfig, c.Parallelism)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries)
	case c.BackoffBase < 0:
		return fmt.Errorf("%w: backoff base must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Coordinator uploads units through a bounded worker pool.
type Coordinator struct {
	config   CoordinatorConfig
	uploader Uploader
	state    *State
}

// NewCoordinator creates a coordinator feeding throughput into state.
func NewCoordinator(cfg CoordinatorConfig, uploader Uploader, state *State) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if uploader == nil {
		return nil, fmt.Errorf("%w: uploader is required", ErrInvalidConfig)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: transfer state is required", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Coordinator{config: cfg, uploader: uploader, state: state}, nil
}

// State returns the transfer state the coordinator updates.
func (c *Coordinator) State() *State {
	return c.state
}

// Run uploads every unit received from units until the channel closes.
// A slot in the pool is reserved before each receive, so a producer that
// slices lazily sees the size in effect when a worker becomes free.
//
// Run returns only after every received unit reached a terminal state.
// Results are ordered by index.
func (c *Coordinator) Run(ctx context.Context, units <-chan types.TransferUnit) []types.UnitResult {
	sem := make(chan struct{}, c.config.Parallelism)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []types.UnitResult
	)

	record := func(r types.UnitResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		if c.config.OnResult != nil {
			c.config.OnResult(r)
		}
	}

	for {
		sem <- struct{}{}
		unit, ok := <-units
		if !ok {
			<-sem
			break
		}
		c.state.unitStarted()

		wg.Add(1)
		go func(u types.TransferUnit) {
			defer wg.Done()
			defer func() { <-sem }()
			record(c.process(ctx, u))
		}(unit)
	}

	wg.Wait()

	slices.SortFunc(results, func(a, b types.UnitResult) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
	return results
}

// process runs one unit to a terminal state: upload, and on a retryable
// failure wait BackoffBase * 2^retries and try again, up to MaxRetries
// retries.
func (c *Coordinator) process(ctx context.Context, unit types.TransferUnit) types.UnitResult {
	logger := c.config.Logger
	result := types.UnitResult{
		Index:  unit.Index,
		Offset: unit.Offset,
		Size:   unit.Len(),
		Chunk:  unit.Chunk,
	}

	if unit.Len() == 0 {
		logger.Warn("unit is empty, skipping upload", map[string]any{"index": unit.Index})
		c.config.Metrics.IncUnitSkipped()
		c.state.unitFinished(outcomeSkipped, 0)
		result.Status = types.UnitStatusSkipped
		return result
	}

	start := c.config.Clock()
	for retries := 0; ; retries++ {
		unit.Attempts++
		c.state.attemptMade()
		logger.Debug("uploading unit", map[string]any{
			"index":   unit.Index,
			"size":    unit.Len(),
			"attempt": unit.Attempts,
		})

		attemptStart := c.config.Clock()
		err := c.uploader.Upload(ctx, &unit)
		elapsed := c.config.Clock().Sub(attemptStart)

		if err == nil {
			throughput := measureThroughput(unit.Len(), elapsed)
			controller := c.state.Controller()
			before := controller.Size()
			after := controller.Observe(throughput)
			c.config.Metrics.RecordSizeChange(before, after)
			c.config.Metrics.RecordUnitUploaded(int64(unit.Len()))
			c.state.unitFinished(outcomeUploaded, unit.Len())

			logger.Info("unit uploaded", map[string]any{
				"index":      unit.Index,
				"size":       unit.Len(),
				"attempts":   unit.Attempts,
				"throughput": throughput,
				"unit_size":  after,
			})
			result.Status = types.UnitStatusUploaded
			result.Attempts = unit.Attempts
			result.Elapsed = c.config.Clock().Sub(start)
			result.Throughput = throughput
			return result
		}

		if !Retryable(err) || retries >= c.config.MaxRetries || ctx.Err() != nil {
			return c.fail(unit, result, start, err)
		}

		delay := c.config.BackoffBase * time.Duration(1<<uint(retries))
		logger.Warn("unit upload failed, retrying", map[string]any{
			"index":   unit.Index,
			"attempt": unit.Attempts,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		c.config.Metrics.IncUnitRetry()

		if sleepErr := c.config.Sleep(ctx, delay); sleepErr != nil {
			return c.fail(unit, result, start, errors.Join(err, sleepErr))
		}
	}
}

func (c *Coordinator) fail(unit types.TransferUnit, result types.UnitResult, start time.Time, err error) types.UnitResult {
	failure := &UnitFailure{Index: unit.Index, Attempts: unit.Attempts, Err: err}
	c.config.Logger.Error("unit failed", map[string]any{
		"index":    unit.Index,
		"attempts": unit.Attempts,
		"error":    err.Error(),
	})
	c.config.Metrics.IncUnitFailed()
	c.state.unitFinished(outcomeFailed, 0)

	result.Status = types.UnitStatusFailed
	result.Attempts = unit.Attempts
	result.Elapsed = c.config.Clock().Sub(start)
	result.Error = failure.Error()
	return result
}

// measureThroughput returns bytes per second. Elapsed times below one
// nanosecond count as one nanosecond.
func measureThroughput(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return float64(n) / elapsed.Seconds()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
