package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/sluice/types"
)

// Version is the capture format version written in every header.
const Version = 1

// FileExt is the extension used by Create.
const FileExt = ".sluicecap"

// Frame type discriminants.
const (
	headerType = "header"
	chunkType  = "chunk"
)

// Header describes the recorded stream.
type Header struct {
	Type      string `msgpack:"type"`
	Version   int    `msgpack:"version"`
	StreamID  string `msgpack:"stream_id"`
	RequestID string `msgpack:"request_id,omitempty"`
	Upstream  string `msgpack:"upstream,omitempty"`
	StartedAt string `msgpack:"started_at"`
}

// Chunk is one upstream read, exactly as received.
type Chunk struct {
	Type string `msgpack:"type"`
	// Seq starts at 1 and increases by one per chunk.
	Seq int64 `msgpack:"seq"`
	// OffsetMs is the arrival time relative to the header.
	OffsetMs int64  `msgpack:"offset_ms"`
	Data     []byte `msgpack:"data"`
}

// Recorder writes a capture. It implements runtime.ChunkRecorder.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	started time.Time
	now     func() time.Time
	seq     int64
	closed  bool
}

// NewRecorder writes the header for meta to w and returns a recorder.
// If w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer, meta *types.StreamMeta) (*Recorder, error) {
	return newRecorder(w, meta, time.Now)
}

func newRecorder(w io.Writer, meta *types.StreamMeta, now func() time.Time) (*Recorder, error) {
	r := &Recorder{w: w, started: now(), now: now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}

	h := Header{
		Type:      headerType,
		Version:   Version,
		StreamID:  meta.StreamID,
		Upstream:  meta.Upstream,
		StartedAt: r.started.UTC().Format(time.RFC3339Nano),
	}
	if meta.RequestID != nil {
		h.RequestID = *meta.RequestID
	}
	payload, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encode capture header: %w", err)
	}
	if err := writeFrame(w, payload); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return r, nil
}

// Create creates <dir>/<stream_id>.sluicecap and starts recording into it.
func Create(dir string, meta *types.StreamMeta) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, meta.StreamID+FileExt))
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	r, err := NewRecorder(f, meta)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// ErrRecorderClosed is returned by Record after Close.
var ErrRecorderClosed = errors.New("capture recorder closed")

// Record appends one chunk. data is copied into the frame.
func (r *Recorder) Record(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	r.seq++
	c := Chunk{
		Type:     chunkType,
		Seq:      r.seq,
		OffsetMs: r.now().Sub(r.started).Milliseconds(),
		Data:     data,
	}
	payload, err := msgpack.Marshal(&c)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", c.Seq, err)
	}
	if err := writeFrame(r.w, payload); err != nil {
		return fmt.Errorf("write chunk %d: %w", c.Seq, err)
	}
	return nil
}

// Chunks returns the number of chunks recorded.
func (r *Recorder) Chunks() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Close stops recording and closes the underlying writer if it is a Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Reader reads a capture.
type Reader struct {
	r      io.Reader
	header Header
	seq    int64
}

// NewReader reads and validates the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	payload, err := readFrame(r)
	if err != nil {
		if err == io.EOF {
			return nil, &FrameError{Kind: FrameErrorPartial, Msg: "empty capture", Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}
	var h Header
	if err := msgpack.Unmarshal(payload, &h); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode capture header", Err: err}
	}
	if h.Type != headerType {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("first frame is %q, want header", h.Type)}
	}
	if h.Version != Version {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unsupported capture version %d", h.Version)}
	}
	return &Reader{r: r, header: h}, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header {
	return r.header
}

// Meta returns the recorded stream identity.
func (r *Reader) Meta() *types.StreamMeta {
	meta := &types.StreamMeta{StreamID: r.header.StreamID, Upstream: r.header.Upstream}
	if r.header.RequestID != "" {
		id := r.header.RequestID
		meta.RequestID = &id
	}
	return meta
}

// Next returns the next chunk, or io.EOF after the last one.
// Chunks must arrive with consecutive seq numbers.
func (r *Reader) Next() (*Chunk, error) {
	payload, err := readFrame(r.r)
	if err != nil {
		return nil, err
	}
	var c Chunk
	if err := msgpack.Unmarshal(payload, &c); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode chunk", Err: err}
	}
	if c.Type != chunkType {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unexpected frame type %q", c.Type)}
	}
	if c.Seq != r.seq+1 {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("chunk sequence violation: expected %d, got %d", r.seq+1, c.Seq),
		}
	}
	r.seq = c.Seq
	return &c, nil
}

// Sniff reports whether br starts like a capture file rather than raw
// upstream text. A capture begins with a length prefix whose high byte is
// zero; raw agent output begins with text.
func Sniff(br *bufio.Reader) bool {
	b, err := br.Peek(LengthPrefixSize)
	if err != nil {
		return false
	}
	return b[0] == 0
}
