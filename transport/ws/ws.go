// Package ws delivers canonical events over a WebSocket connection, one
// JSON text message per event.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/types"
)

const (
	// DefaultWriteWait bounds a single message write.
	DefaultWriteWait = 10 * time.Second

	// MaxRequestBytes caps the request message a client sends to open a
	// stream.
	MaxRequestBytes = 1 << 20
)

// ErrClosed is returned by WriteEvents after Close.
var ErrClosed = errors.New("ws: sink closed")

// Sink is a policy.Sink over a WebSocket connection.
// Close sends a normal closure frame and closes the connection.
type Sink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
	closed    bool
}

// NewSink wraps conn. The caller must not write to conn afterwards.
func NewSink(conn *websocket.Conn, writeWait time.Duration) *Sink {
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}
	return &Sink{conn: conn, writeWait: writeWait}
}

// WriteEvents writes each event as a JSON text message.
func (s *Sink) WriteEvents(ctx context.Context, events []*types.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		deadline := time.Now().Add(s.writeWait)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = s.conn.SetWriteDeadline(deadline) //nolint:errcheck
		if err := s.conn.WriteJSON(ev); err != nil {
			return fmt.Errorf("ws: write event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Close sends a normal closure and closes the connection.
// Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait)) //nolint:errcheck
	return s.conn.Close()
}

// ReadRequest reads the first client message, the request body that opens
// a stream. Only text and binary messages are accepted.
func ReadRequest(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	conn.SetReadLimit(MaxRequestBytes)
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }() //nolint:errcheck
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("ws: read request: %w", err)
	}
	return data, nil
}

// WatchClose drains incoming frames until the peer goes away, then calls
// cancel. The read side must be otherwise idle; control frames are handled
// by the connection.
func WatchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

// Verify Sink implements policy.Sink.
var _ policy.Sink = (*Sink)(nil)
