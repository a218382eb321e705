package recovery

import (
	"encoding/json"
	"strings"

	"github.com/pithecene-io/sluice/frame"
	"github.com/pithecene-io/sluice/types"
)

// strict parses the whole trimmed text as JSON.
func (e *Engine) strict(text string) []types.Candidate {
	s := strings.TrimSpace(text)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return e.records(v, 0)
}

// braceScan extracts the balanced object that encloses the first array key,
// falling back to the first object in the text.
func (e *Engine) braceScan(text string) []types.Candidate {
	b := []byte(text)
	var starts []int
	if loc := e.keyRe.FindIndex(b); loc != nil {
		if i := strings.LastIndexByte(text[:loc[0]], '{'); i >= 0 {
			starts = append(starts, i)
		}
	}
	if i := strings.IndexByte(text, '{'); i >= 0 && (len(starts) == 0 || starts[0] != i) {
		starts = append(starts, i)
	}

	for _, start := range starts {
		end, ok := frame.ScanObject(b, start)
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(b[start:end], &v); err != nil {
			continue
		}
		if recs := e.records(v, 0); len(recs) > 0 {
			return recs
		}
	}
	return nil
}

// escapedWrapper finds string fields whose value is itself escaped JSON,
// unescapes them and retries the parse.
func (e *Engine) escapedWrapper(text string) []types.Candidate {
	for _, body := range escapedBodies(text) {
		inner := unescape(body)
		if recs := e.strict(inner); len(recs) > 0 {
			return recs
		}
		if recs := e.braceScan(inner); len(recs) > 0 {
			return recs
		}
	}
	return nil
}

// fenced tries the contents of each closed ``` block.
func (e *Engine) fenced(text string) []types.Candidate {
	if !strings.Contains(text, "```") {
		return nil
	}
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if recs := e.strict(m[1]); len(recs) > 0 {
			return recs
		}
		if recs := e.braceScan(m[1]); len(recs) > 0 {
			return recs
		}
	}
	return nil
}

// salvage walks the record array element by element and keeps every
// complete element, stopping at the first truncated one.
func (e *Engine) salvage(text string) []types.Candidate {
	if recs := e.salvageArray(text); len(recs) > 0 {
		return recs
	}
	for _, body := range escapedBodies(text) {
		if recs := e.salvageArray(unescape(body)); len(recs) > 0 {
			return recs
		}
	}
	return nil
}

func (e *Engine) salvageArray(text string) []types.Candidate {
	b := []byte(text)
	for _, loc := range e.arrayRe.FindAllIndex(b, -1) {
		var out []types.Candidate
		i := loc[1]
		for {
			for i < len(b) && isSpaceOrComma(b[i]) {
				i++
			}
			if i >= len(b) || b[i] != '{' {
				break
			}
			end, ok := frame.ScanObject(b, i)
			if !ok {
				break
			}
			var el any
			if err := json.Unmarshal(b[i:end], &el); err == nil {
				if rec, ok := e.validElement(el); ok {
					out = append(out, rec)
				}
			}
			i = end
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// escapedBodies returns the raw (still escaped) bodies of string fields
// whose value starts like JSON. A body missing its closing quote runs to
// the end of the text.
func escapedBodies(text string) []string {
	var bodies []string
	pos := 0
	for pos < len(text) {
		loc := wrapperRe.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[1]
		j := start
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) || (text[j] != '{' && text[j] != '[' && !strings.HasPrefix(text[j:], "```")) {
			pos = start
			continue
		}
		end := stringEnd(text, start)
		bodies = append(bodies, text[start:end])
		pos = end
	}
	return bodies
}

// stringEnd returns the index of the unescaped quote closing a JSON string
// body that starts at start, or len(s).
func stringEnd(s string, start int) int {
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(s)
}

// unescape undoes one level of JSON string escaping for the sequences that
// matter to structure. Other escapes, such as \uXXXX, are left for the JSON
// parser.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

func isSpaceOrComma(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',':
		return true
	}
	return false
}
