// Package redis publishes stream completion events to a Redis pub/sub
// channel and, optionally, appends them to a Redis stream.
//
// Retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/sluice/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "sluice:stream_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: sluice:stream_completed).
	Channel string
	// Stream, if set, also appends every event to this Redis stream so
	// consumers that were offline can catch up.
	Stream string
	// StreamMaxLen caps the Redis stream length (approximate). Zero means
	// no cap.
	StreamMaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes stream completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as JSON to the configured channel, and to the
// configured stream when one is set.
func (a *Adapter) Publish(ctx context.Context, event *adapter.StreamCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts, err := adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.publishOnce(publishCtx, event, body)
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("redis: context canceled after %d attempts: %w", attempts, errors.Join(ctx.Err(), err))
		}
		return fmt.Errorf("redis: failed after %d attempts: %w", attempts, err)
	}
	return nil
}

func (a *Adapter) publishOnce(ctx context.Context, event *adapter.StreamCompletedEvent, body []byte) error {
	if err := a.client.Publish(ctx, a.config.Channel, body).Err(); err != nil {
		return err
	}
	if a.config.Stream == "" {
		return nil
	}
	args := &goredis.XAddArgs{
		Stream: a.config.Stream,
		Values: map[string]any{
			"stream_id": event.StreamID,
			"outcome":   event.Outcome,
			"event":     string(body),
		},
	}
	if a.config.StreamMaxLen > 0 {
		args.MaxLen = a.config.StreamMaxLen
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
