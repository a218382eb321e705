package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// Sink abstracts the downstream push channel.
// Implementations write to an SSE response, a WebSocket, a file, or stub
// for testing.
//
// Methods are batch-oriented to support both strict (batch of 1) and
// buffered policies.
type Sink interface {
	// WriteEvents delivers a batch of events.
	// Must preserve ordering within the batch and honor ctx deadlines.
	WriteEvents(ctx context.Context, events []*types.CanonicalEvent) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink is a test sink that records writes.
type StubSink struct {
	mu sync.Mutex

	// EventsWritten is the total count of events written.
	EventsWritten int64
	// EventBatches is the number of WriteEvents calls.
	EventBatches int64
	// Closed indicates whether Close was called.
	Closed bool

	// WrittenEvents stores all written events for inspection.
	WrittenEvents []*types.CanonicalEvent

	// ErrorOnWrite, if non-nil, is returned by WriteEvents.
	ErrorOnWrite error

	// Gate, if non-nil, holds each write until a value is received
	// or ctx ends.
	Gate chan struct{}

	// Entered, if non-nil, receives a value as each write begins.
	Entered chan struct{}
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{
		WrittenEvents: make([]*types.CanonicalEvent, 0),
	}
}

// WriteEvents records the events.
func (s *StubSink) WriteEvents(ctx context.Context, events []*types.CanonicalEvent) error {
	s.mu.Lock()
	gate, entered := s.Gate, s.Entered
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}

	s.EventBatches++
	s.EventsWritten += int64(len(events))
	s.WrittenEvents = append(s.WrittenEvents, events...)
	return nil
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	return nil
}

// SetGate installs the write gate and the entered signal. Either may be nil.
func (s *StubSink) SetGate(gate, entered chan struct{}) {
	s.mu.Lock()
	s.Gate = gate
	s.Entered = entered
	s.mu.Unlock()
}

// SetError sets the error returned by subsequent writes.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Events returns a copy of the written events.
func (s *StubSink) Events() []*types.CanonicalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.CanonicalEvent, len(s.WrittenEvents))
	copy(out, s.WrittenEvents)
	return out
}

// Names returns the written event names in order.
func (s *StubSink) Names() []types.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.EventName, 0, len(s.WrittenEvents))
	for _, e := range s.WrittenEvents {
		out = append(out, e.Name)
	}
	return out
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		EventsWritten: s.EventsWritten,
		EventBatches:  s.EventBatches,
		Closed:        s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	EventsWritten int64
	EventBatches  int64
	Closed        bool
}
