package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pithecene-io/sluice/types"
)

// Frame is one decoded SSE frame.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Decoder reads SSE frames from a response body.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// Next returns the next frame, skipping comments. Returns io.EOF when the
// stream ends between frames.
func (d *Decoder) Next() (*Frame, error) {
	var f Frame
	var data []string
	seen := false
	for d.sc.Scan() {
		line := d.sc.Text()
		if line == "" {
			if !seen {
				continue
			}
			f.Data = strings.Join(data, "\n")
			return &f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		seen = true
		switch field {
		case "id":
			f.ID = value
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := d.sc.Err(); err != nil {
		return nil, err
	}
	if seen {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, io.EOF
}

// NextEvent decodes the next frame as a canonical event and checks that the
// frame header agrees with the body.
func (d *Decoder) NextEvent() (*types.CanonicalEvent, error) {
	f, err := d.Next()
	if err != nil {
		return nil, err
	}
	var ev types.CanonicalEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return nil, fmt.Errorf("sse: decode frame %q: %w", f.ID, err)
	}
	if f.Event != string(ev.Name) {
		return nil, fmt.Errorf("sse: frame event %q does not match body %q", f.Event, ev.Name)
	}
	if id, err := strconv.ParseInt(f.ID, 10, 64); err != nil || id != ev.Seq {
		return nil, fmt.Errorf("sse: frame id %q does not match seq %d", f.ID, ev.Seq)
	}
	return &ev, nil
}

// ReadAll decodes events until the stream ends.
func ReadAll(r io.Reader) ([]*types.CanonicalEvent, error) {
	d := NewDecoder(r)
	var out []*types.CanonicalEvent
	for {
		ev, err := d.NextEvent()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
