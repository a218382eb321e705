// Package metrics provides per-stream metrics collection.
//
// The Collector accumulates counters during a single stream. It is a leaf
// package with no internal dependencies. Delivery metrics are absorbed from
// policy stats when the stream ends rather than recorded live, avoiding
// double-counting.
package metrics

import (
	"maps"
	"sync"
	"time"
)

// Outcome labels accepted by RecordOutcome.
const (
	OutcomeCompleted      = "completed"
	OutcomeTransportError = "transport_error"
	OutcomeCanceled       = "canceled"
	OutcomeIdleTimeout    = "idle_timeout"
	OutcomeEmitFailure    = "emit_failure"
)

// Snapshot is an immutable point-in-time view of all stream metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stream lifecycle
	StreamsStarted     int64
	StreamsCompleted   int64
	StreamsFailed      int64
	StreamsCanceled    int64
	StreamsIdleTimeout int64
	Outcome            string
	Duration           time.Duration

	// Ingestion
	ChunksReceived     int64
	BytesReceived      int64
	DocumentsParsed    int64
	MalformedFragments int64
	ResidualDiscards   int64
	NoiseBytes         int64
	FragmentsByKind    map[string]int64

	// Delivery (absorbed from policy stats at stream end)
	EventsEmitted   int64
	EventsAccepted  int64
	EventsWritten   int64
	EventsDropped   int64
	EventsCoalesced int64
	Pauses          int64
	DroppedByName   map[string]int64

	// Recovery
	RecoveryAttempts   int64
	RecordsRecovered   int64
	RecoveryByStrategy map[string]int64

	// Adapter
	AdapterPublishSuccess int64
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	Policy    string
	Transport string
	StreamID  string
}

// DeliveryStats carries the policy counters absorbed at stream end.
type DeliveryStats struct {
	Emitted       int64
	Accepted      int64
	Written       int64
	Dropped       int64
	Coalesced     int64
	Pauses        int64
	DroppedByName map[string]int64
}

// Collector accumulates metrics during a single stream.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Stream lifecycle
	streamsStarted     int64
	streamsCompleted   int64
	streamsFailed      int64
	streamsCanceled    int64
	streamsIdleTimeout int64
	outcome            string
	started            time.Time
	duration           time.Duration

	// Ingestion
	chunksReceived     int64
	bytesReceived      int64
	documentsParsed    int64
	malformedFragments int64
	residualDiscards   int64
	noiseBytes         int64
	fragmentsByKind    map[string]int64

	// Delivery (set once via AbsorbPolicyStats)
	delivery DeliveryStats

	// Recovery
	recoveryAttempts   int64
	recordsRecovered   int64
	recoveryByStrategy map[string]int64

	// Adapter
	adapterPublishSuccess int64
	adapterPublishFailure int64

	// Dimensions
	policy    string
	transport string
	streamID  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, transport, streamID string) *Collector {
	return &Collector{
		fragmentsByKind:    make(map[string]int64),
		recoveryByStrategy: make(map[string]int64),
		delivery:           DeliveryStats{DroppedByName: make(map[string]int64)},
		policy:             policy,
		transport:          transport,
		streamID:           streamID,
	}
}

// --- Stream lifecycle ---

// IncStreamStarted records a stream start.
func (c *Collector) IncStreamStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsStarted++
	c.started = time.Now()
	c.mu.Unlock()
}

// RecordOutcome records how the stream ended. Unknown outcomes count as failed.
func (c *Collector) RecordOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcome = outcome
	if !c.started.IsZero() {
		c.duration = time.Since(c.started)
	}
	switch outcome {
	case OutcomeCompleted:
		c.streamsCompleted++
	case OutcomeCanceled:
		c.streamsCanceled++
	case OutcomeIdleTimeout:
		c.streamsIdleTimeout++
	default:
		c.streamsFailed++
	}
}

// --- Ingestion ---

// IncChunk records one upstream chunk of n bytes.
func (c *Collector) IncChunk(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksReceived++
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// IncDocuments records n parsed documents.
func (c *Collector) IncDocuments(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.documentsParsed += int64(n)
	c.mu.Unlock()
}

// IncMalformed records a skipped malformed fragment.
func (c *Collector) IncMalformed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.malformedFragments++
	c.mu.Unlock()
}

// IncResidualDiscard records an unparsable residual discarded at finalize.
func (c *Collector) IncResidualDiscard() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.residualDiscards++
	c.mu.Unlock()
}

// SetNoiseBytes records the non-JSON bytes skipped between documents.
func (c *Collector) SetNoiseBytes(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.noiseBytes = n
	c.mu.Unlock()
}

// IncFragment records a classified fragment.
func (c *Collector) IncFragment(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsByKind[kind]++
	c.mu.Unlock()
}

// --- Recovery ---

// IncRecovery records a recovery attempt and the records it produced,
// keyed by the winning strategy. strategy is empty when every strategy failed.
func (c *Collector) IncRecovery(strategy string, records int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recoveryAttempts++
	c.recordsRecovered += int64(records)
	if strategy != "" {
		c.recoveryByStrategy[strategy] += int64(records)
	}
	c.mu.Unlock()
}

// --- Adapter ---

// IncAdapterPublish records a completion notification attempt.
func (c *Collector) IncAdapterPublish(ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if ok {
		c.adapterPublishSuccess++
	} else {
		c.adapterPublishFailure++
	}
	c.mu.Unlock()
}

// --- Delivery (absorbed from policy stats) ---

// AbsorbPolicyStats copies delivery counters into the collector.
// Called once after the stream ends with the final policy snapshot.
// Event names are string-typed to keep this package free of internal
// dependencies.
func (c *Collector) AbsorbPolicyStats(d DeliveryStats) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.delivery = d
	c.delivery.DroppedByName = maps.Clone(d.DroppedByName)
	if c.delivery.DroppedByName == nil {
		c.delivery.DroppedByName = make(map[string]int64)
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		StreamsStarted:     c.streamsStarted,
		StreamsCompleted:   c.streamsCompleted,
		StreamsFailed:      c.streamsFailed,
		StreamsCanceled:    c.streamsCanceled,
		StreamsIdleTimeout: c.streamsIdleTimeout,
		Outcome:            c.outcome,
		Duration:           c.duration,

		ChunksReceived:     c.chunksReceived,
		BytesReceived:      c.bytesReceived,
		DocumentsParsed:    c.documentsParsed,
		MalformedFragments: c.malformedFragments,
		ResidualDiscards:   c.residualDiscards,
		NoiseBytes:         c.noiseBytes,
		FragmentsByKind:    maps.Clone(c.fragmentsByKind),

		EventsEmitted:   c.delivery.Emitted,
		EventsAccepted:  c.delivery.Accepted,
		EventsWritten:   c.delivery.Written,
		EventsDropped:   c.delivery.Dropped,
		EventsCoalesced: c.delivery.Coalesced,
		Pauses:          c.delivery.Pauses,
		DroppedByName:   maps.Clone(c.delivery.DroppedByName),

		RecoveryAttempts:   c.recoveryAttempts,
		RecordsRecovered:   c.recordsRecovered,
		RecoveryByStrategy: maps.Clone(c.recoveryByStrategy),

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Policy:    c.policy,
		Transport: c.transport,
		StreamID:  c.streamID,
	}
}
