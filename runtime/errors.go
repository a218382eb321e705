package runtime

import (
	"errors"
	"fmt"
)

// StreamErrorKind classifies why a stream stopped early.
type StreamErrorKind int

const (
	// StreamErrorTransport indicates the upstream read failed or the
	// upstream produced more unconsumed bytes than the buffer allows.
	StreamErrorTransport StreamErrorKind = iota
	// StreamErrorEmit indicates events could not be delivered downstream.
	StreamErrorEmit
	// StreamErrorCanceled indicates the caller or client went away.
	StreamErrorCanceled
	// StreamErrorIdle indicates no chunk arrived within the idle window.
	StreamErrorIdle
)

func (k StreamErrorKind) String() string {
	switch k {
	case StreamErrorTransport:
		return "transport"
	case StreamErrorEmit:
		return "emit"
	case StreamErrorCanceled:
		return "canceled"
	case StreamErrorIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// StreamError classifies stream errors for outcome determination.
type StreamError struct {
	Kind StreamErrorKind
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ErrStreamFinalized is returned by Ingest after Finalize.
var ErrStreamFinalized = errors.New("stream already finalized")

func kindOf(err error) (StreamErrorKind, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsTransportError returns true if the error is an upstream failure.
func IsTransportError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == StreamErrorTransport
}

// IsEmitError returns true if the error is a delivery failure.
func IsEmitError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == StreamErrorEmit
}

// IsCanceledError returns true if the error is due to cancellation.
func IsCanceledError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == StreamErrorCanceled
}

// IsIdleError returns true if the error is an idle timeout.
func IsIdleError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == StreamErrorIdle
}
