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

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// StreamID is stamped on every accepted event.
	StreamID string

	// QueueSize is the maximum number of accepted events awaiting the sink.
	QueueSize int

	// StallTimeout bounds every wait on the sink: a blocked Emit, a Flush,
	// and each batch write.
	StallTimeout time.Duration

	// Logger is an optional logger for policy observability.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		QueueSize:    DefaultQueueSize,
		StallTimeout: DefaultStallTimeout,
	}
}

// ErrBufferedInvalidConfig is returned when BufferedConfig is invalid.
var ErrBufferedInvalidConfig = errors.New("invalid buffered config: queue size and stall timeout must not be negative")

// BufferedPolicy queues events and writes them from a single writer goroutine.
//
//   - Bounded queue: at most QueueSize accepted events wait for the sink.
//   - Coalescing: a content_delta for the same message as the queued tail
//     is merged into it and consumes no seq.
//   - Drops: when the queue is full, incoming metadata is dropped.
//   - Pause: when the queue is full and the event cannot be dropped, the
//     policy pauses and Emit blocks until the writer makes progress, for at
//     most StallTimeout. WaitReady blocks while paused.
//
// Thread safety:
//   - mu guards the queue, flags and stats
//   - the writer swaps the whole queue under mu and writes outside it
//   - progress is closed and replaced after every batch to wake waiters
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu       sync.Mutex
	queue    []*types.CanonicalEvent
	inflight int
	paused   bool
	closed   bool
	err      error // sticky write failure
	stamper  stamper
	stats    *statsRecorder
	progress chan struct{}

	work       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// NewBufferedPolicy creates a buffered policy and starts its writer.
// Returns error if config is invalid.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.QueueSize < 0 || config.StallTimeout < 0 {
		return nil, ErrBufferedInvalidConfig
	}
	defaults := DefaultBufferedConfig()
	if config.QueueSize == 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.StallTimeout == 0 {
		config.StallTimeout = defaults.StallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &BufferedPolicy{
		sink:       sink,
		config:     config,
		logger:     config.Logger,
		queue:      make([]*types.CanonicalEvent, 0, config.QueueSize),
		stamper:    newStamper(config.StreamID),
		stats:      newStatsRecorder(),
		progress:   make(chan struct{}),
		work:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	go p.writeLoop()
	return p, nil
}

// Emit accepts an event into the queue.
func (p *BufferedPolicy) Emit(ctx context.Context, event *types.CanonicalEvent) error {
	p.mu.Lock()
	p.stats.incTotalEventsLocked()

	for {
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return err
		}
		if p.coalesceLocked(event) {
			p.mu.Unlock()
			return nil
		}
		if len(p.queue) < p.config.QueueSize {
			break
		}
		if CanDrop(event) {
			p.stats.incEventsDroppedLocked(event.Name)
			p.mu.Unlock()
			p.logDrop(event)
			return nil
		}

		if !p.paused {
			p.paused = true
			p.stats.incPausesLocked()
		}
		wait := p.progress
		p.mu.Unlock()

		if err := p.await(ctx, wait); err != nil {
			return p.fail(err)
		}
		p.mu.Lock()
	}

	p.stamper.stamp(event)
	p.stats.incAcceptedLocked(event.Seq)
	p.queue = append(p.queue, event)
	p.stats.observeDepthLocked(int64(len(p.queue) + p.inflight))
	p.mu.Unlock()

	p.signal()
	return nil
}

// WaitReady blocks while the policy is paused.
func (p *BufferedPolicy) WaitReady(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return err
		}
		if !p.paused {
			p.mu.Unlock()
			return ctx.Err()
		}
		wait := p.progress
		p.mu.Unlock()

		if err := p.await(ctx, wait); err != nil {
			return p.fail(err)
		}
	}
}

// Flush blocks until the queue is empty and no batch is in flight.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return err
		}
		if len(p.queue) == 0 && p.inflight == 0 {
			p.mu.Unlock()
			p.logFlush()
			return nil
		}
		wait := p.progress
		p.mu.Unlock()

		p.signal()
		if err := p.await(ctx, wait); err != nil {
			return p.fail(err)
		}
	}
}

// Close flushes best effort, stops the writer and closes the sink.
// Safe to call more than once.
func (p *BufferedPolicy) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.StallTimeout)
		if err := p.Flush(ctx); err != nil && p.logger != nil {
			p.logger.Warn("flush on close failed", map[string]any{
				"error":  err.Error(),
				"policy": "buffered",
			})
		}
		cancel()

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.cancel()
		<-p.writerDone
		p.closeErr = p.sink.Close()
	})
	return p.closeErr
}

// Stats returns an atomic snapshot of policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(int64(len(p.queue) + p.inflight))
}

// Paused reports whether producers are currently held back.
func (p *BufferedPolicy) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// coalesceLocked merges a content_delta into the queued tail when both
// belong to the same message. Caller must hold mu.
func (p *BufferedPolicy) coalesceLocked(event *types.CanonicalEvent) bool {
	if event.Name != types.EventContentDelta || len(p.queue) == 0 {
		return false
	}
	tail := p.queue[len(p.queue)-1]
	if tail.Name != types.EventContentDelta || tail.MessageID() != event.MessageID() {
		return false
	}
	prev, _ := tail.Payload["delta"].(string)
	next, _ := event.Payload["delta"].(string)
	for k, v := range event.Payload {
		if k == "offset" {
			continue
		}
		tail.Payload[k] = v
	}
	tail.Payload["delta"] = prev + next
	p.stats.incCoalescedLocked()
	return true
}

// await waits for the next writer progress signal.
func (p *BufferedPolicy) await(ctx context.Context, wait <-chan struct{}) error {
	stall := time.NewTimer(p.config.StallTimeout)
	defer stall.Stop()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stall.C:
		return ErrQueueStalled
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// fail records a stall as a sticky error. Caller cancellation is not sticky.
func (p *BufferedPolicy) fail(err error) error {
	if !errors.Is(err, ErrQueueStalled) {
		return err
	}
	p.mu.Lock()
	if p.err == nil {
		p.err = err
		p.stats.incErrorsLocked()
	}
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Error("event queue stalled", map[string]any{
			"stall_timeout": p.config.StallTimeout.String(),
			"policy":        "buffered",
		})
	}
	return err
}

func (p *BufferedPolicy) signal() {
	select {
	case p.work <- struct{}{}:
	default:
	}
}

// broadcastLocked wakes every waiter. Caller must hold mu.
func (p *BufferedPolicy) broadcastLocked() {
	close(p.progress)
	p.progress = make(chan struct{})
}

func (p *BufferedPolicy) writeLoop() {
	defer close(p.writerDone)
	for {
		select {
		case <-p.work:
			p.drain()
		case <-p.ctx.Done():
			return
		}
	}
}

// drain writes queued batches until the queue is empty or a write fails.
func (p *BufferedPolicy) drain() {
	for {
		p.mu.Lock()
		batch := p.queue
		if len(batch) == 0 || p.err != nil {
			p.mu.Unlock()
			return
		}
		p.queue = make([]*types.CanonicalEvent, 0, p.config.QueueSize)
		p.inflight = len(batch)
		p.paused = false
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(p.ctx, p.config.StallTimeout)
		err := p.sink.WriteEvents(ctx, batch)
		cancel()

		p.mu.Lock()
		p.inflight = 0
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", ErrQueueStalled, err)
			}
			p.err = err
			p.stats.incErrorsLocked()
		} else {
			p.stats.incEventsWrittenLocked(int64(len(batch)))
		}
		p.broadcastLocked()
		p.mu.Unlock()

		if err != nil {
			p.logWriteFailure(len(batch), err)
			return
		}
	}
}

// --- Logging helpers ---

func (p *BufferedPolicy) logDrop(event *types.CanonicalEvent) {
	if p.logger == nil {
		return
	}
	p.logger.Debug("event dropped", map[string]any{
		"event":  string(event.Name),
		"policy": "buffered",
	})
}

func (p *BufferedPolicy) logFlush() {
	if p.logger == nil {
		return
	}
	s := p.Stats()
	p.logger.Debug("buffered flush", map[string]any{
		"written":   s.EventsWritten,
		"coalesced": s.EventsCoalesced,
		"dropped":   s.EventsDropped,
		"policy":    "buffered",
	})
}

func (p *BufferedPolicy) logWriteFailure(events int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("batch write failed", map[string]any{
		"events": events,
		"error":  err.Error(),
		"policy": "buffered",
	})
}

// Verify BufferedPolicy implements Policy.
var _ Policy = (*BufferedPolicy)(nil)
