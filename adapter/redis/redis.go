// Package redis publishes finalize events to Redis.
//
// Events go to a pub/sub channel. When Stream is set, each event is also
// appended to a stream capped near StreamMaxLen (MAXLEN ~) so consumers
// that were offline can catch up. The two writes retry independently: a
// failing stream append never republishes to the channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/tessera/adapter"
)

const (
	// DefaultChannel is the default pub/sub channel name.
	DefaultChannel = "tessera:artifact_finalized"
	// DefaultStreamMaxLen caps the stream when Stream is set.
	DefaultStreamMaxLen = 10_000
	// DefaultTimeout is the default per-publish timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the default number of retry attempts.
	DefaultRetries = 3
	// DefaultBackoff is the wait before the first retry.
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	// Stream names a stream that also receives every event. Empty
	// disables it.
	Stream       string
	StreamMaxLen int64
	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
}

// Adapter publishes finalize events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New parses the URL and applies defaults. It does not connect.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.StreamMaxLen < 0 {
		return nil, fmt.Errorf("stream max length must be >= 0, got %d", cfg.StreamMaxLen)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Stream != "" && cfg.StreamMaxLen == 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends event as JSON. A closed client is not retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArtifactFinalizedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = a.retry(ctx, func(ctx context.Context) error {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	if a.config.Stream == "" {
		return nil
	}

	err = a.retry(ctx, func(ctx context.Context) error {
		return a.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: a.config.Stream,
			MaxLen: a.config.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				"artifact_id": event.ArtifactID,
				"outcome":     event.Outcome,
				"event":       string(body),
			},
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: stream append: %w", err)
	}
	return nil
}

// retry runs op with the per-attempt timeout and the configured retries.
func (a *Adapter) retry(ctx context.Context, op func(context.Context) error) error {
	return adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		err := op(ctx)
		if errors.Is(err, goredis.ErrClosed) {
			return adapter.Permanent(err)
		}
		return err
	})
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
