// Package frame recovers complete JSON objects from an arbitrarily chunked
// upstream byte stream.
//
// Object boundaries are found with a string-aware brace balancer: braces
// inside string literals are ignored and a backslash inside a string skips
// the byte that follows it. Only braces are counted; brackets nest inside
// an object and need no tracking of their own.
package frame

// Scanner is a resumable brace balancer for a single candidate object.
// The zero value is ready to scan from an opening brace.
type Scanner struct {
	depth    int
	inString bool
	escaped  bool
}

// Advance consumes s[from:] and reports the index one past the brace that
// closes the object. When the object is still open, end is len(s) and the
// scanner may be resumed later from that position on a longer buffer.
func (sc *Scanner) Advance(s []byte, from int) (end int, closed bool) {
	for i := from; i < len(s); i++ {
		c := s[i]
		if sc.inString {
			switch {
			case sc.escaped:
				sc.escaped = false
			case c == '\\':
				sc.escaped = true
			case c == '"':
				sc.inString = false
			}
			continue
		}
		switch c {
		case '"':
			sc.inString = true
		case '{':
			sc.depth++
		case '}':
			sc.depth--
			if sc.depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(s), false
}

// Depth returns the current nesting depth.
func (sc *Scanner) Depth() int {
	return sc.depth
}

// ScanObject scans s starting at the opening brace at start and returns the
// index one past the matching closing brace. ok is false when the input ends
// before the object is balanced.
func ScanObject[T ~string | ~[]byte](s T, start int) (end int, ok bool) {
	var sc Scanner
	return sc.Advance([]byte(s), start)
}
