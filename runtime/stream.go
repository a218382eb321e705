// Package runtime drives one upstream response stream through assembly,
// classification, delivery and record recovery.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/sluice/classify"
	"github.com/pithecene-io/sluice/frame"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/recovery"
	"github.com/pithecene-io/sluice/types"
)

const (
	// DefaultReadSize is the read buffer used by Run.
	DefaultReadSize = 32 * 1024

	// progressiveStep is how much the message must grow before progressive
	// recovery runs again.
	progressiveStep = 4 * 1024

	// maxEmptyReads is how many consecutive (0, nil) reads end a stream.
	maxEmptyReads = 100

	finalizeTimeout = 30 * time.Second
)

// ChunkRecorder receives every raw upstream chunk before it is assembled.
type ChunkRecorder interface {
	Record(data []byte) error
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	Meta   *types.StreamMeta
	Policy policy.Policy

	// Logger defaults to a logger bound to Meta.
	Logger *log.Logger
	// Collector is optional; nil disables metrics.
	Collector *metrics.Collector
	// Recovery defaults to an engine with recovery.DefaultConfig.
	Recovery *recovery.Engine
	// Recorder is optional. A failing recorder is disabled, the stream
	// continues.
	Recorder ChunkRecorder

	// IdleTimeout ends Run when no chunk arrives within the window.
	// Zero disables it.
	IdleTimeout time.Duration
	// MaxBufferBytes bounds unconsumed upstream bytes.
	// Zero selects frame.DefaultMaxBufferBytes.
	MaxBufferBytes int
	// ReadSize is the read buffer size used by Run.
	ReadSize int
	// Progressive emits a metadata event whenever recovery finds more
	// records in the growing message.
	Progressive bool

	// NewID generates message and thought ids. Defaults to uuid.NewString.
	NewID func() string
}

type readResult struct {
	data []byte
	err  error
}

// Result is the final state of a stream.
type Result struct {
	Meta        *types.StreamMeta
	Outcome     types.StreamOutcome
	MessageID   string
	Message     string
	Records     []types.Candidate
	Strategy    string
	Diagnostics []*frame.FrameError
	PolicyStats policy.Stats
	Metrics     metrics.Snapshot
	Duration    time.Duration
	// Err is the error that ended the stream early, or nil.
	Err error
}

// Stream holds all per-stream state: the assembly buffer, the open thought,
// the assembled message and the recovery tracker. Nothing is shared across
// streams.
//
// Ingest and Finalize must be called from a single goroutine. Run does so.
type Stream struct {
	cfg       StreamConfig
	policy    policy.Policy
	logger    *log.Logger
	collector *metrics.Collector

	asm      *frame.Assembler
	thoughts *classify.ThoughtTracker
	tracker  *recovery.Tracker
	recorder ChunkRecorder

	messageID string
	message   strings.Builder
	// partial holds text streamed as partial deltas since the last final
	// text fragment.
	partial       strings.Builder
	lastRecovered int

	diagnostics []*frame.FrameError
	emitErr     error
	started     time.Time
	result      *Result
}

// NewStream creates a stream. Meta and Policy are required.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Meta == nil {
		return nil, errors.New("stream meta is required")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream meta: %w", err)
	}
	if cfg.Policy == nil {
		return nil, errors.New("policy is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(cfg.Meta)
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.MustNew(recovery.DefaultConfig())
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}

	s := &Stream{
		cfg:       cfg,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		asm:       frame.NewAssembler(cfg.MaxBufferBytes),
		thoughts:  classify.NewThoughtTracker(cfg.NewID),
		tracker:   recovery.NewTracker(cfg.Recovery),
		recorder:  cfg.Recorder,
		messageID: cfg.NewID(),
		started:   time.Now(),
	}
	s.collector.IncStreamStarted()
	return s, nil
}

// MessageID returns the id of the assembled message.
func (s *Stream) MessageID() string {
	return s.messageID
}

// Message returns the text assembled so far.
func (s *Stream) Message() string {
	return s.message.String()
}

// Ingest appends one upstream chunk and emits an event for every document
// it completes. Returns a *StreamError when the stream must end.
func (s *Stream) Ingest(ctx context.Context, chunk []byte) error {
	if s.result != nil {
		return ErrStreamFinalized
	}
	if len(chunk) == 0 {
		return nil
	}
	s.record(chunk)
	s.collector.IncChunk(len(chunk))

	if err := s.asm.Append(chunk); err != nil {
		s.logger.Error("upstream buffer limit exceeded", map[string]any{
			"error":    err.Error(),
			"buffered": s.asm.Buffered(),
		})
		return &StreamError{Kind: StreamErrorTransport, Err: err}
	}

	docs, diags := s.asm.Extract()
	for _, d := range diags {
		s.diagnose(d)
	}
	s.collector.IncDocuments(len(docs))
	s.collector.SetNoiseBytes(s.asm.Stats().NoiseBytes)

	for _, doc := range docs {
		if err := s.handle(ctx, doc); err != nil {
			return &StreamError{Kind: StreamErrorEmit, Err: err}
		}
	}
	return nil
}

// Run reads r until EOF, an error, cancellation or the idle timeout, then
// finalizes the stream. If r is an io.Closer it is closed before Run
// returns, which unblocks the reader goroutine. Otherwise a Read blocked
// at that point keeps the goroutine alive until it returns; its result is
// discarded. A reader that keeps returning no data and no error ends the
// stream with io.ErrNoProgress.
func (s *Stream) Run(ctx context.Context, r io.Reader) *Result {
	done := make(chan struct{})
	chunks := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, s.cfg.ReadSize)
		empty := 0
		for {
			n, err := r.Read(buf)
			var data []byte
			if n > 0 {
				data = append([]byte(nil), buf[:n]...)
			}
			if n == 0 && err == nil {
				empty++
				if empty < maxEmptyReads {
					continue
				}
				err = io.ErrNoProgress
			}
			empty = 0
			select {
			case chunks <- readResult{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	cause := s.loop(ctx, chunks, idle, timer)

	close(done)
	if c, ok := r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Debug("upstream close failed", map[string]any{"error": err.Error()})
		}
		<-readerDone
	}
	return s.Finalize(ctx, cause)
}

func (s *Stream) loop(ctx context.Context, chunks <-chan readResult, idle <-chan time.Time, timer *time.Timer) error {
	for {
		if err := s.policy.WaitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return &StreamError{Kind: StreamErrorCanceled, Err: ctx.Err()}
			}
			return &StreamError{Kind: StreamErrorEmit, Err: err}
		}

		select {
		case <-ctx.Done():
			return &StreamError{Kind: StreamErrorCanceled, Err: ctx.Err()}

		case <-idle:
			s.logger.Warn("upstream idle timeout", map[string]any{
				"idle_timeout": s.cfg.IdleTimeout.String(),
			})
			return &StreamError{
				Kind: StreamErrorIdle,
				Err:  fmt.Errorf("no upstream bytes for %s", s.cfg.IdleTimeout),
			}

		case m := <-chunks:
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
			if len(m.data) > 0 {
				if err := s.Ingest(ctx, m.data); err != nil {
					if ctx.Err() != nil {
						return &StreamError{Kind: StreamErrorCanceled, Err: ctx.Err()}
					}
					return err
				}
			}
			if m.err == nil {
				continue
			}
			if errors.Is(m.err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return &StreamError{Kind: StreamErrorCanceled, Err: ctx.Err()}
			}
			s.logger.Error("upstream read failed", map[string]any{"error": m.err.Error()})
			return &StreamError{Kind: StreamErrorTransport, Err: m.err}
		}
	}
}

// Finalize drains the buffer, closes the open thought, recovers records
// from the assembled message and emits message_complete, followed by an
// error event for transport failures. cause is the error that ended the
// stream, nil for a clean end. Finalize is idempotent.
//
// Finalize does not close the policy.
func (s *Stream) Finalize(ctx context.Context, cause error) *Result {
	if s.result != nil {
		return s.result
	}

	outcome := DetermineOutcome(cause)
	if s.emitErr != nil {
		outcome = types.OutcomeEmitFailure
	}
	deliver := outcome != types.OutcomeEmitFailure

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	docs, diag := s.asm.Finalize()
	if diag != nil {
		s.diagnose(diag)
	}
	s.collector.IncDocuments(len(docs))
	s.collector.SetNoiseBytes(s.asm.Stats().NoiseBytes)
	for _, doc := range docs {
		if !deliver {
			break
		}
		if err := s.handle(ctx, doc); err != nil {
			deliver = false
		}
	}
	s.thoughts.Close()

	text := s.message.String()
	records, _ := s.tracker.Update(text)
	strategy := s.tracker.Strategy()
	s.collector.IncRecovery(strategy, len(records))
	if len(records) > 0 {
		s.logger.Info("records recovered", map[string]any{
			"records":  len(records),
			"strategy": strategy,
		})
	}

	if deliver {
		s.emitComplete(ctx, outcome, text, records)
	}
	if deliver && outcome == types.OutcomeTransportError {
		s.emitError(ctx, cause)
	}

	if deliver {
		if err := s.policy.Flush(ctx); err != nil {
			s.logger.Warn("policy flush failed", map[string]any{"error": err.Error()})
			if s.emitErr == nil {
				s.emitErr = err
			}
		}
	}
	if s.emitErr != nil && outcome != types.OutcomeCanceled {
		outcome = types.OutcomeEmitFailure
		if cause == nil {
			cause = &StreamError{Kind: StreamErrorEmit, Err: s.emitErr}
		}
	}

	s.result = s.buildResult(outcome, text, records, strategy, cause)
	s.logger.Info("stream finalized", map[string]any{
		"outcome":     string(outcome),
		"message_len": len(text),
		"records":     len(records),
		"events":      s.result.PolicyStats.EventsAccepted,
		"duration_ms": s.result.Duration.Milliseconds(),
	})
	return s.result
}

// handle classifies one document and emits its event.
func (s *Stream) handle(ctx context.Context, doc types.Document) error {
	frag := classify.Classify(doc)
	s.collector.IncFragment(string(frag.Kind))

	if frag.Kind == types.FragmentThought {
		payload := s.thoughts.Accumulate(frag).Payload()
		payload["message_id"] = s.messageID
		if frag.Author != "" {
			payload["author"] = frag.Author
		}
		return s.emit(ctx, types.EventThought, frag.Kind, payload, false)
	}
	s.thoughts.Close()

	switch frag.Kind {
	case types.FragmentTextDelta:
		return s.handleText(ctx, frag)

	case types.FragmentFunctionCall:
		payload := map[string]any{
			"message_id": s.messageID,
			"id":         frag.Call.ID,
			"name":       frag.Call.Name,
			"args":       frag.Call.Args,
		}
		return s.emit(ctx, types.EventFunctionCall, frag.Kind, payload, true)

	case types.FragmentFunctionResponse:
		payload := map[string]any{
			"message_id": s.messageID,
			"id":         frag.Response.ID,
			"name":       frag.Response.Name,
			"response":   frag.Response.Response,
		}
		return s.emit(ctx, types.EventFunctionResponse, frag.Kind, payload, true)

	default:
		if frag.Kind == types.FragmentUnknown {
			s.logger.Debug("unclassified document forwarded", map[string]any{
				"offset": doc.Offset,
				"size":   len(doc.Raw),
			})
		}
		payload := map[string]any{
			"kind": string(frag.Kind),
			"data": doc.Value,
		}
		return s.emit(ctx, types.EventMetadata, frag.Kind, payload, true)
	}
}

// handleText appends a text fragment to the message. A final fragment
// that repeats the partial deltas streamed before it contributes only the
// text those deltas did not already carry.
func (s *Stream) handleText(ctx context.Context, frag types.Fragment) error {
	text := frag.Text
	if frag.Final {
		seen := s.partial.String()
		s.partial.Reset()
		if seen != "" && strings.HasPrefix(text, seen) {
			text = text[len(seen):]
		}
	} else {
		s.partial.WriteString(text)
	}
	if text == "" {
		return nil
	}

	offset := s.message.Len()
	s.message.WriteString(text)
	payload := map[string]any{
		"message_id": s.messageID,
		"delta":      text,
		"offset":     offset,
	}
	if frag.Author != "" {
		payload["author"] = frag.Author
	}
	if err := s.emit(ctx, types.EventContentDelta, frag.Kind, payload, false); err != nil {
		return err
	}
	return s.progress(ctx)
}

// progress runs progressive recovery once the message has grown enough.
// It is checked after every text delta so the decision depends only on
// the document sequence, never on chunk boundaries.
func (s *Stream) progress(ctx context.Context) error {
	if !s.cfg.Progressive || s.message.Len()-s.lastRecovered < progressiveStep {
		return nil
	}
	s.lastRecovered = s.message.Len()

	records, changed := s.tracker.Update(s.message.String())
	if !changed {
		return nil
	}
	payload := map[string]any{
		"kind": "records",
		"data": map[string]any{
			"message_id": s.messageID,
			"records":    records,
			"strategy":   s.tracker.Strategy(),
			"partial":    true,
		},
	}
	return s.emit(ctx, types.EventMetadata, "", payload, true)
}

func (s *Stream) emitComplete(ctx context.Context, outcome types.StreamOutcome, text string, records []types.Candidate) {
	payload := map[string]any{
		"message_id": s.messageID,
		"text":       text,
		"records":    records,
		"outcome":    string(outcome),
		"partial":    outcome != types.OutcomeCompleted,
	}
	if err := s.emit(ctx, types.EventMessageComplete, "", payload, true); err != nil {
		s.logger.Warn("message_complete not delivered", map[string]any{"error": err.Error()})
	}
}

func (s *Stream) emitError(ctx context.Context, cause error) {
	payload := map[string]any{
		"message_id": s.messageID,
		"kind":       string(types.OutcomeTransportError),
		"message":    cause.Error(),
	}
	if err := s.emit(ctx, types.EventError, "", payload, true); err != nil {
		s.logger.Warn("error event not delivered", map[string]any{"error": err.Error()})
	}
}

func (s *Stream) emit(ctx context.Context, name types.EventName, kind types.FragmentKind, payload map[string]any, complete bool) error {
	if s.emitErr != nil {
		return s.emitErr
	}
	event := &types.CanonicalEvent{
		Name:     name,
		Kind:     kind,
		Payload:  payload,
		Complete: complete,
	}
	if err := s.policy.Emit(ctx, event); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		s.emitErr = err
		s.logger.Error("event delivery failed", map[string]any{
			"event": string(name),
			"error": err.Error(),
		})
		return err
	}
	return nil
}

func (s *Stream) diagnose(d *frame.FrameError) {
	s.diagnostics = append(s.diagnostics, d)
	switch d.Kind {
	case frame.FrameErrorMalformed:
		s.collector.IncMalformed()
	case frame.FrameErrorResidual:
		s.collector.IncResidualDiscard()
	}
	s.logger.Warn("fragment discarded", map[string]any{
		"kind":    d.Kind.String(),
		"offset":  d.Offset,
		"size":    d.Size,
		"preview": d.Preview,
		"error":   d.Error(),
	})
}

func (s *Stream) record(chunk []byte) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(chunk); err != nil {
		s.logger.Warn("chunk capture disabled", map[string]any{"error": err.Error()})
		s.recorder = nil
	}
}

func (s *Stream) buildResult(outcome types.StreamOutcome, text string, records []types.Candidate, strategy string, cause error) *Result {
	ps := s.policy.Stats()

	droppedByName := make(map[string]int64, len(ps.DroppedByName))
	for k, v := range ps.DroppedByName {
		droppedByName[string(k)] = v
	}
	s.collector.AbsorbPolicyStats(metrics.DeliveryStats{
		Emitted:       ps.TotalEvents,
		Accepted:      ps.EventsAccepted,
		Written:       ps.EventsWritten,
		Dropped:       ps.EventsDropped,
		Coalesced:     ps.EventsCoalesced,
		Pauses:        ps.Pauses,
		DroppedByName: droppedByName,
	})
	s.collector.RecordOutcome(string(outcome))

	if outcome == types.OutcomeCompleted {
		cause = nil
	}
	return &Result{
		Meta:        s.cfg.Meta,
		Outcome:     outcome,
		MessageID:   s.messageID,
		Message:     text,
		Records:     records,
		Strategy:    strategy,
		Diagnostics: s.diagnostics,
		PolicyStats: ps,
		Metrics:     s.collector.Snapshot(),
		Duration:    time.Since(s.started),
		Err:         cause,
	}
}
