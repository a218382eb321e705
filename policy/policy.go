// Package policy delivers canonical events downstream in order.
//
// A Policy owns the per-stream sequence counter: an event receives its seq
// when it is accepted for delivery, so events merged into a queued event or
// dropped never consume one. Only metadata events may be dropped. No policy
// blocks the producer for longer than its stall timeout.
package policy

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/pithecene-io/sluice/types"
)

// Policy defines the downstream delivery interface.
type Policy interface {
	// Emit accepts an event for delivery, stamping its seq, stream id and
	// timestamp. Returns an error when the event cannot be delivered; the
	// stream must end.
	Emit(ctx context.Context, event *types.CanonicalEvent) error

	// WaitReady blocks while the policy is paused by backpressure.
	// Producers call it before accepting new upstream input.
	WaitReady(ctx context.Context) error

	// Flush blocks until every accepted event has been written.
	Flush(ctx context.Context) error

	// Close flushes best effort, stops background work and closes the sink.
	Close() error

	// Stats returns a consistent snapshot of delivery counters.
	Stats() Stats
}

// Stats represents delivery metrics.
type Stats struct {
	// TotalEvents is the number of Emit calls.
	TotalEvents int64
	// EventsAccepted is the number of events assigned a seq.
	EventsAccepted int64
	// EventsWritten is the number of events the sink acknowledged.
	EventsWritten int64
	// EventsDropped is the total number of events dropped.
	EventsDropped int64
	// DroppedByName maps event names to drop counts.
	DroppedByName map[types.EventName]int64
	// EventsCoalesced is the number of deltas merged into a queued delta.
	EventsCoalesced int64
	// QueueDepth is the number of accepted events not yet handed to the sink.
	QueueDepth int64
	// MaxQueueDepth is the high-water mark of QueueDepth.
	MaxQueueDepth int64
	// Pauses counts transitions into the paused state.
	Pauses int64
	// FlushCount is the number of Flush calls.
	FlushCount int64
	// Errors is the count of failed sink writes and stalls.
	Errors int64
	// LastSeq is the last seq assigned.
	LastSeq int64
}

var (
	// ErrQueueStalled is returned when the sink made no progress within the
	// stall timeout.
	ErrQueueStalled = errors.New("event queue stalled")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("policy closed")
)

// DefaultStallTimeout bounds how long a producer may wait on the sink.
const DefaultStallTimeout = 10 * time.Second

// DefaultQueueSize is the buffered policy queue capacity.
const DefaultQueueSize = 256

// droppableNames defines which events may be dropped under pressure.
var droppableNames = map[types.EventName]bool{
	types.EventMetadata: true,
}

// IsDroppable returns true if the event may be dropped by policy.
func IsDroppable(name types.EventName) bool {
	return droppableNames[name]
}

// CanDrop reports whether event may be dropped under pressure. Metadata
// carrying an unclassified document is kept for diagnostics.
func CanDrop(event *types.CanonicalEvent) bool {
	if !IsDroppable(event.Name) {
		return false
	}
	kind, _ := event.Payload["kind"].(string)
	return kind != string(types.FragmentUnknown)
}

// DroppableNames returns the set of event names that may be dropped.
func DroppableNames() map[types.EventName]bool {
	return maps.Clone(droppableNames)
}

// stamper assigns per-stream identity to accepted events.
type stamper struct {
	streamID string
	seq      int64
	now      func() time.Time
}

func newStamper(streamID string) stamper {
	return stamper{streamID: streamID, now: time.Now}
}

func (s *stamper) stamp(event *types.CanonicalEvent) {
	s.seq++
	event.Seq = s.seq
	if event.StreamID == "" {
		event.StreamID = s.streamID
	}
	if event.Ts == "" {
		event.Ts = s.now().UTC().Format(time.RFC3339Nano)
	}
}

// withStall bounds ctx by the stall timeout. A non-positive timeout only
// adds cancellation.
func withStall(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// statsRecorder is an internal helper for thread-safe stats management.
//
// Lock discipline:
//   - StrictPolicy and NoopPolicy use the locking methods.
//   - BufferedPolicy uses the Locked methods only while holding
//     BufferedPolicy.mu, keeping queue state and counters consistent.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{
			DroppedByName: make(map[types.EventName]int64),
		},
	}
}

func (r *statsRecorder) incTotalEvents() {
	r.mu.Lock()
	r.stats.TotalEvents++
	r.mu.Unlock()
}

func (r *statsRecorder) incAccepted(seq int64) {
	r.mu.Lock()
	r.incAcceptedLocked(seq)
	r.mu.Unlock()
}

func (r *statsRecorder) incEventsWritten(n int64) {
	r.mu.Lock()
	r.stats.EventsWritten += n
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(0)
}

// --- Locked methods for BufferedPolicy ---
// Caller must hold BufferedPolicy.mu.

func (r *statsRecorder) incTotalEventsLocked() {
	r.stats.TotalEvents++
}

func (r *statsRecorder) incAcceptedLocked(seq int64) {
	r.stats.EventsAccepted++
	r.stats.LastSeq = seq
}

func (r *statsRecorder) incEventsWrittenLocked(n int64) {
	r.stats.EventsWritten += n
}

func (r *statsRecorder) incEventsDroppedLocked(name types.EventName) {
	r.stats.EventsDropped++
	r.stats.DroppedByName[name]++
}

func (r *statsRecorder) incCoalescedLocked() {
	r.stats.EventsCoalesced++
}

func (r *statsRecorder) incPausesLocked() {
	r.stats.Pauses++
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

func (r *statsRecorder) observeDepthLocked(depth int64) {
	if depth > r.stats.MaxQueueDepth {
		r.stats.MaxQueueDepth = depth
	}
}

// snapshotLocked returns a snapshot with the given queue depth.
func (r *statsRecorder) snapshotLocked(depth int64) Stats {
	s := r.stats
	s.QueueDepth = depth
	s.DroppedByName = maps.Clone(r.stats.DroppedByName)
	return s
}
