package classify

import (
	"strings"

	"github.com/google/uuid"

	"github.com/pithecene-io/sluice/types"
)

// Thought is the state of an accumulating thought after a fragment is applied.
type Thought struct {
	ID      string
	Title   string
	Delta   string
	Content string
	Parts   int
}

// Payload renders the thought as an event payload.
func (t Thought) Payload() map[string]any {
	return map[string]any{
		"thought_id": t.ID,
		"title":      t.Title,
		"delta":      t.Delta,
		"content":    t.Content,
		"parts":      t.Parts,
	}
}

type openThought struct {
	id      string
	title   string
	content strings.Builder
	parts   int
}

// ThoughtTracker groups consecutive thought fragments.
//
// A fragment with an empty title, or the same title as the open thought,
// continues it. A different title opens a new thought. Any non-thought
// fragment closes the open thought.
type ThoughtTracker struct {
	open   *openThought
	newID  func() string
	closed int
}

// NewThoughtTracker creates a tracker. newID may be nil.
func NewThoughtTracker(newID func() string) *ThoughtTracker {
	if newID == nil {
		newID = uuid.NewString
	}
	return &ThoughtTracker{newID: newID}
}

// Accumulate applies a thought fragment and returns the resulting state.
func (t *ThoughtTracker) Accumulate(f types.Fragment) Thought {
	if t.open == nil || (f.Title != "" && f.Title != t.open.title) {
		t.Close()
		t.open = &openThought{id: t.newID(), title: f.Title}
	}
	o := t.open
	o.content.WriteString(f.Text)
	o.parts++
	return Thought{
		ID:      o.id,
		Title:   o.title,
		Delta:   f.Text,
		Content: o.content.String(),
		Parts:   o.parts,
	}
}

// Close ends the open thought, if any, and reports whether one was open.
func (t *ThoughtTracker) Close() bool {
	if t.open == nil {
		return false
	}
	t.open = nil
	t.closed++
	return true
}

// Open reports whether a thought is accumulating.
func (t *ThoughtTracker) Open() bool {
	return t.open != nil
}

// Closed returns the number of thoughts closed so far.
func (t *ThoughtTracker) Closed() int {
	return t.closed
}
