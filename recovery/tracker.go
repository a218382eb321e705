package recovery

import (
	"reflect"
	"sync"

	"github.com/pithecene-io/sluice/types"
)

// Tracker runs recovery against a growing text. Once it has records it
// never falls back to none: an empty extraction keeps the last non-empty
// set, any non-empty extraction replaces it.
type Tracker struct {
	engine *Engine

	mu       sync.Mutex
	best     []types.Candidate
	strategy string
	attempts int
}

// NewTracker creates a tracker over engine.
func NewTracker(engine *Engine) *Tracker {
	return &Tracker{engine: engine}
}

// Update recovers from text and returns the current record set.
// changed is true when a non-empty extraction differs from the previous set.
func (t *Tracker) Update(text string) (records []types.Candidate, changed bool) {
	recs, strategy := t.engine.ExtractWithStrategy(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	if len(recs) > 0 {
		changed = !reflect.DeepEqual(recs, t.best)
		t.best = recs
		t.strategy = strategy
	}
	return t.best, changed
}

// Records returns the current record set, or nil.
func (t *Tracker) Records() []types.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best
}

// Strategy returns the strategy that produced the current records.
func (t *Tracker) Strategy() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strategy
}

// Attempts returns the number of Update calls.
func (t *Tracker) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}
