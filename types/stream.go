//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"strings"
)

// StreamMeta identifies one upstream response stream.
type StreamMeta struct {
	// StreamID is unique per stream.
	StreamID string
	// RequestID is the client-supplied request identifier, if any.
	RequestID *string
	// Upstream names the source of the byte stream (URL or capture path).
	Upstream string
}

// Validate checks that the stream has an identity.
func (m *StreamMeta) Validate() error {
	if strings.TrimSpace(m.StreamID) == "" {
		return errors.New("stream_id must be non-empty")
	}
	if m.RequestID != nil && *m.RequestID == "" {
		return errors.New("request_id must be non-empty when set")
	}
	return nil
}

// StreamOutcome is how a stream ended.
type StreamOutcome string

const (
	// OutcomeCompleted indicates the upstream closed normally.
	OutcomeCompleted StreamOutcome = "completed"
	// OutcomeTransportError indicates the upstream read failed.
	OutcomeTransportError StreamOutcome = "transport_error"
	// OutcomeCanceled indicates the client went away or the caller canceled.
	OutcomeCanceled StreamOutcome = "canceled"
	// OutcomeIdleTimeout indicates no bytes arrived within the idle window.
	OutcomeIdleTimeout StreamOutcome = "idle_timeout"
	// OutcomeEmitFailure indicates events could not be delivered downstream.
	OutcomeEmitFailure StreamOutcome = "emit_failure"
)

// IsFailure returns true for outcomes that end with an error event.
func (o StreamOutcome) IsFailure() bool {
	return o == OutcomeTransportError || o == OutcomeEmitFailure
}
