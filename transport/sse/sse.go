// Package sse delivers canonical events as a Server-Sent Events stream.
//
// Each event is one frame:
//
//	id: <seq>
//	event: <name>
//	data: <json>
//
// The data line carries the whole canonical event as a single JSON line.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/types"
)

// ContentType is the media type of an SSE response.
const ContentType = "text/event-stream"

// DefaultWriteTimeout bounds a single batch write.
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned by WriteEvents after Close.
var ErrClosed = errors.New("sse: writer closed")

// Writer is a policy.Sink over an HTTP response.
type Writer struct {
	mu           sync.Mutex
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration
	closed       bool
	frames       int64
}

// NewWriter prepares rw for streaming: it sets the SSE headers, writes the
// status line and flushes so the client sees the stream open at once.
func NewWriter(rw http.ResponseWriter, writeTimeout time.Duration) (*Writer, error) {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	h := rw.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	wr := &Writer{
		w:            rw,
		rc:           http.NewResponseController(rw),
		writeTimeout: writeTimeout,
	}
	if err := wr.flush(); err != nil {
		return nil, fmt.Errorf("sse: initial flush: %w", err)
	}
	return wr, nil
}

// NewStreamWriter writes frames to a plain io.Writer, for files and tests.
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{w: w, writeTimeout: DefaultWriteTimeout}
}

// WriteEvents writes every event as a frame, then flushes once.
func (w *Writer) WriteEvents(ctx context.Context, events []*types.CanonicalEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.setDeadline(deadline); err != nil {
		return err
	}

	for _, ev := range events {
		frame, err := EncodeFrame(ev)
		if err != nil {
			return err
		}
		if _, err := w.w.Write(frame); err != nil {
			return fmt.Errorf("sse: write event %d: %w", ev.Seq, err)
		}
		w.frames++
	}
	return w.flush()
}

// Comment writes an SSE comment line, used as a keep-alive.
func (w *Writer) Comment(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("sse: write comment: %w", err)
	}
	return w.flush()
}

// Frames returns the number of event frames written.
func (w *Writer) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close stops further writes. The response itself is finished by the
// handler returning.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.rc != nil {
		return ignoreUnsupported(w.rc.SetWriteDeadline(time.Time{}))
	}
	return nil
}

func (w *Writer) setDeadline(t time.Time) error {
	if w.rc == nil {
		return nil
	}
	if err := ignoreUnsupported(w.rc.SetWriteDeadline(t)); err != nil {
		return fmt.Errorf("sse: set write deadline: %w", err)
	}
	return nil
}

func (w *Writer) flush() error {
	if w.rc == nil {
		return nil
	}
	if err := ignoreUnsupported(w.rc.Flush()); err != nil {
		return fmt.Errorf("sse: flush: %w", err)
	}
	return nil
}

func ignoreUnsupported(err error) error {
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

// EncodeFrame renders one event as an SSE frame.
func EncodeFrame(ev *types.CanonicalEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("sse: marshal event %d: %w", ev.Seq, err)
	}
	frame := make([]byte, 0, len(data)+len(ev.Name)+32)
	frame = fmt.Appendf(frame, "id: %d\nevent: %s\ndata: ", ev.Seq, ev.Name)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Verify Writer implements policy.Sink.
var _ policy.Sink = (*Writer)(nil)
