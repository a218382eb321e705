package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/types"
)

// StrictConfig configures a StrictPolicy.
type StrictConfig struct {
	// StreamID is stamped on every accepted event.
	StreamID string
	// StallTimeout bounds each sink write. Zero selects DefaultStallTimeout.
	StallTimeout time.Duration
	// Logger is optional.
	Logger *log.Logger
}

// StrictPolicy writes every event synchronously.
//
//   - No queue: each event is written before Emit returns.
//   - No drops and no coalescing.
//   - Backpressure: the caller blocks on the sink, up to StallTimeout.
//   - Sink errors end the stream.
type StrictPolicy struct {
	sink    Sink
	config  StrictConfig
	logger  *log.Logger
	stats   *statsRecorder
	stamper stamper

	// writeMu serializes stamp and write so seq order matches write order.
	writeMu sync.Mutex
	closed  bool
}

// NewStrictPolicy creates a new strict policy writing to the given sink.
func NewStrictPolicy(sink Sink, config StrictConfig) *StrictPolicy {
	if config.StallTimeout <= 0 {
		config.StallTimeout = DefaultStallTimeout
	}
	return &StrictPolicy{
		sink:    sink,
		config:  config,
		logger:  config.Logger,
		stats:   newStatsRecorder(),
		stamper: newStamper(config.StreamID),
	}
}

// Emit stamps the event and writes it immediately.
func (p *StrictPolicy) Emit(ctx context.Context, event *types.CanonicalEvent) error {
	p.stats.incTotalEvents()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.stamper.stamp(event)
	p.stats.incAccepted(event.Seq)

	wctx, cancel := withStall(ctx, p.config.StallTimeout)
	defer cancel()

	if err := p.sink.WriteEvents(wctx, []*types.CanonicalEvent{event}); err != nil {
		p.stats.incErrors()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrQueueStalled, err)
		}
		p.logWriteFailure(event, err)
		return err
	}

	p.stats.incEventsWritten(1)
	return nil
}

// WaitReady never blocks: a strict policy applies backpressure in Emit.
func (p *StrictPolicy) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

// Flush is a no-op for strict policy (nothing is queued).
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	p.writeMu.Lock()
	p.closed = true
	p.writeMu.Unlock()
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

func (p *StrictPolicy) logWriteFailure(event *types.CanonicalEvent, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("event write failed", map[string]any{
		"event":  string(event.Name),
		"seq":    event.Seq,
		"error":  err.Error(),
		"policy": "strict",
	})
}

// Verify StrictPolicy implements Policy.
var _ Policy = (*StrictPolicy)(nil)
