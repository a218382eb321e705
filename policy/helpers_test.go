package policy_test

import (
	"testing"
	"time"

	"github.com/pithecene-io/sluice/types"
)

func event(name types.EventName) *types.CanonicalEvent {
	return &types.CanonicalEvent{Name: name, Payload: map[string]any{}}
}

func delta(messageID, text string) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Name:    types.EventContentDelta,
		Payload: map[string]any{"message_id": messageID, "delta": text},
	}
}

func seqs(events []*types.CanonicalEvent) []int64 {
	out := make([]int64, 0, len(events))
	for _, e := range events {
		out = append(out, e.Seq)
	}
	return out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
