package runtime

import (
	"context"
	"errors"

	"github.com/pithecene-io/sluice/types"
)

// Process exit codes for CLI surfaces.
const (
	ExitCodeOK             = 0
	ExitCodeUsage          = 1
	ExitCodeTransportError = 2
	ExitCodeEmitFailure    = 3
	ExitCodeCanceled       = 130
)

// DetermineOutcome maps the error that ended a stream to its outcome.
//
//   - nil: completed
//   - StreamErrorIdle: idle_timeout (the stream is finalized normally)
//   - StreamErrorCanceled or a context cancellation: canceled
//   - StreamErrorEmit: emit_failure
//   - anything else: transport_error
func DetermineOutcome(cause error) types.StreamOutcome {
	if cause == nil {
		return types.OutcomeCompleted
	}
	if k, ok := kindOf(cause); ok {
		switch k {
		case StreamErrorIdle:
			return types.OutcomeIdleTimeout
		case StreamErrorCanceled:
			return types.OutcomeCanceled
		case StreamErrorEmit:
			return types.OutcomeEmitFailure
		default:
			return types.OutcomeTransportError
		}
	}
	if errors.Is(cause, context.Canceled) {
		return types.OutcomeCanceled
	}
	return types.OutcomeTransportError
}

// ExitCodeFor returns the process exit code for an outcome.
func ExitCodeFor(outcome types.StreamOutcome) int {
	switch outcome {
	case types.OutcomeCompleted, types.OutcomeIdleTimeout:
		return ExitCodeOK
	case types.OutcomeEmitFailure:
		return ExitCodeEmitFailure
	case types.OutcomeCanceled:
		return ExitCodeCanceled
	default:
		return ExitCodeTransportError
	}
}
