package frame

import (
	"errors"
	"fmt"
)

// FrameErrorKind classifies assembly diagnostics.
type FrameErrorKind int

const (
	// FrameErrorMalformed indicates a balanced candidate that failed strict parsing.
	FrameErrorMalformed FrameErrorKind = iota
	// FrameErrorResidual indicates unparsable bytes discarded at finalize.
	FrameErrorResidual
	// FrameErrorTooLarge indicates the buffer would exceed its byte limit.
	FrameErrorTooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorMalformed:
		return "malformed"
	case FrameErrorResidual:
		return "residual"
	case FrameErrorTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// FrameError describes bytes the assembler could not turn into a document.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	// Offset is the stream byte offset where the offending bytes start.
	Offset int64
	// Size is the number of bytes involved.
	Size int
	// Preview is a short prefix of the offending bytes.
	Preview string
	Err     error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue after this error.
// Malformed and residual fragments are diagnostics only.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err wraps a fatal FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

const previewLen = 64

func preview(b []byte) string {
	if len(b) > previewLen {
		return string(b[:previewLen]) + "..."
	}
	return string(b)
}
