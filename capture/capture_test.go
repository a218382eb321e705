package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/sluice/types"
)

func testMeta() *types.StreamMeta {
	reqID := "req-1"
	return &types.StreamMeta{StreamID: "stream-1", RequestID: &reqID, Upstream: "http://agent/run_sse"}
}

func fakeClock(step time.Duration) func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := -1
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * step)
	}
}

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec, err := newRecorder(&buf, testMeta(), fakeClock(10*time.Millisecond))
	if err != nil {
		t.Fatalf("newRecorder: %v", err)
	}
	chunks := []string{`{"te`, `xt":"hi"}`, "\n", `{"text":"there"}`}
	for _, c := range chunks {
		if err := rec.Record([]byte(c)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if rec.Chunks() != int64(len(chunks)) {
		t.Errorf("Chunks() = %d", rec.Chunks())
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	h := r.Header()
	if h.StreamID != "stream-1" || h.RequestID != "req-1" || h.StartedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("header = %+v", h)
	}
	if meta := r.Meta(); meta.RequestID == nil || *meta.RequestID != "req-1" {
		t.Errorf("Meta() = %+v", meta)
	}

	var got []string
	for i := 0; ; i++ {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if c.Seq != int64(i+1) {
			t.Errorf("chunk %d seq = %d", i, c.Seq)
		}
		if c.OffsetMs != int64((i+1)*10) {
			t.Errorf("chunk %d offset_ms = %d", i, c.OffsetMs)
		}
		got = append(got, string(c.Data))
	}
	if strings.Join(got, "|") != strings.Join(chunks, "|") {
		t.Errorf("chunks = %q, want %q", got, chunks)
	}
}

func TestRecorder_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested")
	rec, err := Create(path, testMeta())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := rec.Record([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := rec.Record([]byte("y")); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Record after Close = %v", err)
	}

	f, err := os.Open(filepath.Join(path, "stream-1"+FileExt))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if !Sniff(bufio.NewReader(f)) {
		t.Error("Sniff did not recognize a capture file")
	}
}

func TestSniff_RawText(t *testing.T) {
	for _, raw := range []string{`{"text":"hi"}`, "data: {}\n", "  {"} {
		if Sniff(bufio.NewReader(strings.NewReader(raw))) {
			t.Errorf("Sniff(%q) = true", raw)
		}
	}
	if Sniff(bufio.NewReader(strings.NewReader("ab"))) {
		t.Error("Sniff on short input = true")
	}
}

func frameOf(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReader_Errors(t *testing.T) {
	header := frameOf(t, &Header{Type: headerType, Version: Version, StreamID: "s"})

	tests := []struct {
		name      string
		data      []byte
		wantFatal bool
		atHeader  bool
	}{
		{
			name:      "empty",
			data:      nil,
			wantFatal: true,
			atHeader:  true,
		},
		{
			name:     "chunk first",
			data:     frameOf(t, &Chunk{Type: chunkType, Seq: 1}),
			atHeader: true,
		},
		{
			name:     "wrong version",
			data:     frameOf(t, &Header{Type: headerType, Version: 99}),
			atHeader: true,
		},
		{
			name:      "truncated prefix",
			data:      append(append([]byte{}, header...), 0, 0),
			wantFatal: true,
		},
		{
			name:      "truncated payload",
			data:      append(append([]byte{}, header...), 0, 0, 0, 9, 1, 2),
			wantFatal: true,
		},
		{
			name:      "oversized",
			data:      append(append([]byte{}, header...), 0xFF, 0xFF, 0xFF, 0xFF),
			wantFatal: true,
		},
		{
			name: "seq gap",
			data: append(append([]byte{}, header...), frameOf(t, &Chunk{Type: chunkType, Seq: 2})...),
		},
		{
			name: "not msgpack",
			data: append(append([]byte{}, header...), 0, 0, 0, 1, 0xC1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(tt.data))
			if !tt.atHeader {
				if err != nil {
					t.Fatalf("NewReader: %v", err)
				}
				_, err = r.Next()
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FrameError", err)
			}
			if got := IsFatalFrameError(err); got != tt.wantFatal {
				t.Errorf("IsFatalFrameError = %v, want %v (%v)", got, tt.wantFatal, err)
			}
		})
	}
}

func TestWriteFrame_TooLarge(t *testing.T) {
	err := writeFrame(io.Discard, make([]byte, MaxPayloadSize+1))
	if !IsFatalFrameError(err) {
		t.Errorf("writeFrame oversized = %v", err)
	}
}

func TestReadFrame_LengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(buf.Bytes()[:LengthPrefixSize]); got != 3 {
		t.Errorf("prefix = %d, want 3", got)
	}
	payload, err := readFrame(&buf)
	if err != nil || string(payload) != "abc" {
		t.Errorf("readFrame = %q, %v", payload, err)
	}
	if _, err := readFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("readFrame at end = %v, want io.EOF", err)
	}
}
