package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// NoopPolicy stamps and counts events without delivering them.
// Used when only the stream result matters, such as replay summaries.
//
// Stats keep drop semantics: metadata counts as dropped, everything else
// counts as written.
type NoopPolicy struct {
	mu      sync.Mutex
	stamper stamper
	stats   *statsRecorder
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy(streamID string) *NoopPolicy {
	return &NoopPolicy{
		stamper: newStamper(streamID),
		stats:   newStatsRecorder(),
	}
}

// Emit stamps the event and discards it.
func (p *NoopPolicy) Emit(_ context.Context, event *types.CanonicalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalEvents()
	if CanDrop(event) {
		p.stats.mu.Lock()
		p.stats.incEventsDroppedLocked(event.Name)
		p.stats.mu.Unlock()
		return nil
	}

	p.stamper.stamp(event)
	p.stats.incAccepted(event.Seq)
	p.stats.incEventsWritten(1)
	return nil
}

// WaitReady never blocks.
func (p *NoopPolicy) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

// Verify NoopPolicy implements Policy.
var _ Policy = (*NoopPolicy)(nil)
