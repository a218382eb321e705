package policy_test

import (
	"testing"

	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/types"
)

func TestNoopPolicy_StampsAndCounts(t *testing.T) {
	pol := policy.NewNoopPolicy("s-1")

	names := []types.EventName{
		types.EventContentDelta,
		types.EventMetadata,
		types.EventThought,
		types.EventMessageComplete,
	}
	var accepted []*types.CanonicalEvent
	for _, n := range names {
		ev := event(n)
		if err := pol.Emit(t.Context(), ev); err != nil {
			t.Fatalf("Emit(%s): %v", n, err)
		}
		accepted = append(accepted, ev)
	}

	if accepted[0].Seq != 1 || accepted[2].Seq != 2 || accepted[3].Seq != 3 {
		t.Errorf("seqs = %v, want 1,0,2,3", seqs(accepted))
	}
	if accepted[1].Seq != 0 {
		t.Errorf("dropped metadata got seq %d", accepted[1].Seq)
	}

	stats := pol.Stats()
	if stats.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if stats.EventsWritten != 3 {
		t.Errorf("EventsWritten = %d, want 3", stats.EventsWritten)
	}
	if stats.DroppedByName[types.EventMetadata] != 1 {
		t.Errorf("DroppedByName[metadata] = %d, want 1", stats.DroppedByName[types.EventMetadata])
	}
	if err := pol.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
