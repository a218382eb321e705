// Package adapter defines the completion-notification boundary.
//
// Adapters publish a stream_completed notification to downstream systems
// when a stream ends. Publishing failures are logged and counted; they never
// reach the streaming client.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/runtime"
	"github.com/pithecene-io/sluice/types"
)

// EventType is the event_type of every notification.
const EventType = "stream_completed"

// StreamCompletedEvent is the payload published when a stream finishes.
type StreamCompletedEvent struct {
	ContractVersion string            `json:"contract_version"`
	EventType       string            `json:"event_type"` // always "stream_completed"
	StreamID        string            `json:"stream_id"`
	RequestID       string            `json:"request_id,omitempty"`
	Upstream        string            `json:"upstream,omitempty"`
	Outcome         string            `json:"outcome"`
	Error           string            `json:"error,omitempty"`
	Timestamp       string            `json:"timestamp"` // RFC 3339
	EventCount      int64             `json:"event_count"`
	DurationMs      int64             `json:"duration_ms"`
	MessageID       string            `json:"message_id"`
	MessageLength   int               `json:"message_length"`
	RecordCount     int               `json:"record_count"`
	Strategy        string            `json:"strategy,omitempty"`
	Records         []types.Candidate `json:"records"`
}

// FromResult builds the notification for a finished stream.
func FromResult(res *runtime.Result, now time.Time) *StreamCompletedEvent {
	ev := &StreamCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventType,
		Outcome:         string(res.Outcome),
		Timestamp:       now.UTC().Format(time.RFC3339),
		EventCount:      res.PolicyStats.EventsAccepted,
		DurationMs:      res.Duration.Milliseconds(),
		MessageID:       res.MessageID,
		MessageLength:   len(res.Message),
		RecordCount:     len(res.Records),
		Strategy:        res.Strategy,
		Records:         res.Records,
	}
	if res.Meta != nil {
		ev.StreamID = res.Meta.StreamID
		ev.Upstream = res.Meta.Upstream
		if res.Meta.RequestID != nil {
			ev.RequestID = *res.Meta.RequestID
		}
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// Adapter publishes stream completion events to a downstream system.
type Adapter interface {
	// Publish sends a stream completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *StreamCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Notify publishes the completion event for res, bounded by timeout.
// The error is logged and counted, then returned for callers that care.
func Notify(ctx context.Context, a Adapter, res *runtime.Result, timeout time.Duration, logger *log.Logger, collector *metrics.Collector) error {
	if a == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := a.Publish(ctx, FromResult(res, time.Now()))
	collector.IncAdapterPublish(err == nil)
	if logger != nil {
		if err != nil {
			logger.Warn("completion notification failed", map[string]any{"error": err.Error()})
		} else {
			logger.Debug("completion notification published", nil)
		}
	}
	return err
}

// ErrNonRetriable marks an error that Retry must not retry.
var ErrNonRetriable = errors.New("non-retriable")

// BaseBackoff is the delay before the first retry; it doubles per retry.
const BaseBackoff = 500 * time.Millisecond

// Retry calls op up to 1+retries times with exponential backoff between
// attempts. It stops early when op succeeds, when op returns an error
// wrapping ErrNonRetriable, or when ctx ends.
func Retry(ctx context.Context, retries int, base time.Duration, op func(context.Context) error) (attempts int, err error) {
	if base <= 0 {
		base = BaseBackoff
	}
	for i := range 1 + retries {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempts, err
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return attempts, err
			case <-time.After(backoff):
			}
		}
		attempts++
		err = op(ctx)
		if err == nil || errors.Is(err, ErrNonRetriable) {
			return attempts, err
		}
	}
	return attempts, err
}
