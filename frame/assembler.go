package frame

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/sluice/types"
)

// DefaultMaxBufferBytes bounds the assembler buffer (16 MiB).
const DefaultMaxBufferBytes = 16 * 1024 * 1024

// Assembler accumulates raw chunks and yields complete JSON objects.
//
// Buffered bytes are only released when a document is consumed or at
// Finalize. Bytes preceding a consumed document are released with it.
// A balanced candidate that fails strict parsing is held while it is the
// tail of the buffer; once more content follows it, it is reported as
// malformed and skipped.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	buf    []byte
	offset int64 // stream offset of buf[0]
	max    int

	// candidate state
	open       bool
	start      int
	scanPos    int
	scanner    Scanner
	pendingEnd int // end of a closed candidate that failed to parse

	stats Stats
}

// Stats counts assembler activity.
type Stats struct {
	BytesIn    int64
	Documents  int64
	Malformed  int64
	NoiseBytes int64
}

// NewAssembler creates an assembler. maxBytes <= 0 selects DefaultMaxBufferBytes.
func NewAssembler(maxBytes int) *Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &Assembler{max: maxBytes}
}

// Append adds a chunk to the buffer. The chunk is copied.
// Returns a fatal FrameError if the buffer would exceed its limit.
func (a *Assembler) Append(chunk []byte) error {
	if len(a.buf)+len(chunk) > a.max {
		return &FrameError{
			Kind:   FrameErrorTooLarge,
			Msg:    fmt.Sprintf("buffer would grow to %d bytes, limit %d", len(a.buf)+len(chunk), a.max),
			Offset: a.offset,
			Size:   len(a.buf) + len(chunk),
		}
	}
	a.buf = append(a.buf, chunk...)
	a.stats.BytesIn += int64(len(chunk))
	return nil
}

// Buffered returns the number of bytes held.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Stats returns a copy of the assembler counters.
func (a *Assembler) Stats() Stats {
	return a.stats
}

// Extract returns every complete document currently in the buffer, in
// stream order, plus a diagnostic for each malformed candidate skipped.
func (a *Assembler) Extract() ([]types.Document, []*FrameError) {
	var docs []types.Document
	var diags []*FrameError

	for {
		if a.pendingEnd > 0 {
			if !hasContentAfter(a.buf, a.pendingEnd) {
				break
			}
			diags = append(diags, a.malformed(a.start, a.pendingEnd, nil))
			a.consume(a.pendingEnd)
			continue
		}

		if !a.open {
			i := bytes.IndexByte(a.buf, '{')
			if i < 0 {
				break
			}
			a.open = true
			a.start = i
			a.scanPos = i
			a.scanner = Scanner{}
		}

		end, closed := a.scanner.Advance(a.buf, a.scanPos)
		a.scanPos = end
		if !closed {
			break
		}

		value, err := decodeObject(a.buf[a.start:end])
		if err != nil {
			if hasContentAfter(a.buf, end) {
				diags = append(diags, a.malformed(a.start, end, err))
				a.consume(end)
				continue
			}
			a.pendingEnd = end
			break
		}

		docs = append(docs, types.Document{
			Raw:    bytes.Clone(a.buf[a.start:end]),
			Value:  value,
			Offset: a.offset + int64(a.start),
		})
		a.stats.Documents++
		a.consume(end)
	}

	return docs, diags
}

// Finalize drains the buffer. Residual content is parsed as one or more
// concatenated objects; whatever does not parse is reported as a single
// diagnostic. The assembler is empty afterwards.
func (a *Assembler) Finalize() ([]types.Document, *FrameError) {
	var docs []types.Document
	unparsable := 0
	firstBad := -1

	markBad := func(from, to int) {
		n := countNonSeparators(a.buf[from:to])
		if n == 0 {
			return
		}
		unparsable += n
		if firstBad < 0 {
			firstBad = from
		}
	}

	pos := 0
	for pos < len(a.buf) {
		i := bytes.IndexByte(a.buf[pos:], '{')
		if i < 0 {
			markBad(pos, len(a.buf))
			break
		}
		start := pos + i
		markBad(pos, start)

		end, closed := ScanObject(a.buf, start)
		if !closed {
			markBad(start, len(a.buf))
			break
		}
		value, err := decodeObject(a.buf[start:end])
		if err != nil {
			markBad(start, end)
		} else {
			docs = append(docs, types.Document{
				Raw:    bytes.Clone(a.buf[start:end]),
				Value:  value,
				Offset: a.offset + int64(start),
			})
			a.stats.Documents++
		}
		pos = end
	}

	var diag *FrameError
	if unparsable > 0 {
		diag = &FrameError{
			Kind:    FrameErrorResidual,
			Msg:     fmt.Sprintf("discarded %d unparsable residual bytes", unparsable),
			Offset:  a.offset + int64(firstBad),
			Size:    unparsable,
			Preview: preview(bytes.TrimSpace(a.buf[firstBad:])),
		}
	}

	a.offset += int64(len(a.buf))
	a.buf = nil
	a.reset()
	return docs, diag
}

func (a *Assembler) malformed(start, end int, err error) *FrameError {
	a.stats.Malformed++
	return &FrameError{
		Kind:    FrameErrorMalformed,
		Msg:     "skipped malformed fragment",
		Offset:  a.offset + int64(start),
		Size:    end - start,
		Preview: preview(a.buf[start:end]),
		Err:     err,
	}
}

// consume releases buf[:end] and resets candidate state.
func (a *Assembler) consume(end int) {
	a.stats.NoiseBytes += int64(countNonSeparators(a.buf[:a.start]))
	a.offset += int64(end)
	rest := len(a.buf) - end
	if rest == 0 {
		a.buf = a.buf[:0]
	} else {
		// Compact so consumed bytes can be collected.
		a.buf = append(make([]byte, 0, max(rest, 512)), a.buf[end:]...)
	}
	a.reset()
}

func (a *Assembler) reset() {
	a.open = false
	a.start = 0
	a.scanPos = 0
	a.scanner = Scanner{}
	a.pendingEnd = 0
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// isSeparator reports bytes that may sit between documents without being
// noise: whitespace and the punctuation of a streamed JSON array.
func isSeparator(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', '[', ']':
		return true
	}
	return false
}

func countNonSeparators(b []byte) int {
	n := 0
	for _, c := range b {
		if !isSeparator(c) {
			n++
		}
	}
	return n
}

func hasContentAfter(b []byte, end int) bool {
	for _, c := range b[end:] {
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return true
		}
	}
	return false
}
