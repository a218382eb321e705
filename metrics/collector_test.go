package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("buffered", "sse", "s-001")

	c.IncStreamStarted()
	c.IncChunk(10)
	c.IncChunk(5)
	c.IncDocuments(3)
	c.IncMalformed()
	c.IncResidualDiscard()
	c.SetNoiseBytes(4)
	c.IncFragment("text_delta")
	c.IncFragment("text_delta")
	c.IncFragment("thought")
	c.IncRecovery("brace_scan", 2)
	c.IncRecovery("", 0)
	c.IncAdapterPublish(true)
	c.IncAdapterPublish(false)
	c.RecordOutcome(OutcomeCompleted)

	s := c.Snapshot()

	if s.StreamsStarted != 1 {
		t.Errorf("StreamsStarted = %d, want 1", s.StreamsStarted)
	}
	if s.StreamsCompleted != 1 {
		t.Errorf("StreamsCompleted = %d, want 1", s.StreamsCompleted)
	}
	if s.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", s.Outcome, OutcomeCompleted)
	}
	if s.ChunksReceived != 2 {
		t.Errorf("ChunksReceived = %d, want 2", s.ChunksReceived)
	}
	if s.BytesReceived != 15 {
		t.Errorf("BytesReceived = %d, want 15", s.BytesReceived)
	}
	if s.DocumentsParsed != 3 {
		t.Errorf("DocumentsParsed = %d, want 3", s.DocumentsParsed)
	}
	if s.MalformedFragments != 1 {
		t.Errorf("MalformedFragments = %d, want 1", s.MalformedFragments)
	}
	if s.ResidualDiscards != 1 {
		t.Errorf("ResidualDiscards = %d, want 1", s.ResidualDiscards)
	}
	if s.NoiseBytes != 4 {
		t.Errorf("NoiseBytes = %d, want 4", s.NoiseBytes)
	}
	if s.FragmentsByKind["text_delta"] != 2 {
		t.Errorf("FragmentsByKind[text_delta] = %d, want 2", s.FragmentsByKind["text_delta"])
	}
	if s.RecoveryAttempts != 2 {
		t.Errorf("RecoveryAttempts = %d, want 2", s.RecoveryAttempts)
	}
	if s.RecordsRecovered != 2 {
		t.Errorf("RecordsRecovered = %d, want 2", s.RecordsRecovered)
	}
	if s.RecoveryByStrategy["brace_scan"] != 2 {
		t.Errorf("RecoveryByStrategy[brace_scan] = %d, want 2", s.RecoveryByStrategy["brace_scan"])
	}
	if s.AdapterPublishSuccess != 1 {
		t.Errorf("AdapterPublishSuccess = %d, want 1", s.AdapterPublishSuccess)
	}
	if s.AdapterPublishFailure != 1 {
		t.Errorf("AdapterPublishFailure = %d, want 1", s.AdapterPublishFailure)
	}
}

func TestCollector_RecordOutcome(t *testing.T) {
	tests := []struct {
		outcome string
		check   func(Snapshot) int64
	}{
		{OutcomeCompleted, func(s Snapshot) int64 { return s.StreamsCompleted }},
		{OutcomeCanceled, func(s Snapshot) int64 { return s.StreamsCanceled }},
		{OutcomeIdleTimeout, func(s Snapshot) int64 { return s.StreamsIdleTimeout }},
		{OutcomeTransportError, func(s Snapshot) int64 { return s.StreamsFailed }},
		{OutcomeEmitFailure, func(s Snapshot) int64 { return s.StreamsFailed }},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			c := NewCollector("strict", "sse", "s")
			c.IncStreamStarted()
			c.RecordOutcome(tt.outcome)
			if got := tt.check(c.Snapshot()); got != 1 {
				t.Errorf("counter for %s = %d, want 1", tt.outcome, got)
			}
		})
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("buffered", "ws", "s-42")
	s := c.Snapshot()

	if s.Policy != "buffered" {
		t.Errorf("Policy = %q, want %q", s.Policy, "buffered")
	}
	if s.Transport != "ws" {
		t.Errorf("Transport = %q, want %q", s.Transport, "ws")
	}
	if s.StreamID != "s-42" {
		t.Errorf("StreamID = %q, want %q", s.StreamID, "s-42")
	}
}

func TestCollector_AbsorbPolicyStats(t *testing.T) {
	c := NewCollector("buffered", "sse", "s")
	dropped := map[string]int64{"metadata": 3}

	c.AbsorbPolicyStats(DeliveryStats{
		Emitted:       20,
		Accepted:      12,
		Written:       12,
		Dropped:       3,
		Coalesced:     5,
		Pauses:        1,
		DroppedByName: dropped,
	})
	dropped["metadata"] = 99

	s := c.Snapshot()
	if s.EventsEmitted != 20 || s.EventsAccepted != 12 || s.EventsWritten != 12 {
		t.Errorf("delivery = %d/%d/%d, want 20/12/12", s.EventsEmitted, s.EventsAccepted, s.EventsWritten)
	}
	if s.EventsCoalesced != 5 || s.Pauses != 1 {
		t.Errorf("coalesced/pauses = %d/%d, want 5/1", s.EventsCoalesced, s.Pauses)
	}
	if s.DroppedByName["metadata"] != 3 {
		t.Errorf("DroppedByName[metadata] = %d, want 3 (input map must be copied)", s.DroppedByName["metadata"])
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncStreamStarted()
	c.IncChunk(1)
	c.IncDocuments(1)
	c.IncMalformed()
	c.IncResidualDiscard()
	c.SetNoiseBytes(1)
	c.IncFragment("x")
	c.IncRecovery("x", 1)
	c.IncAdapterPublish(true)
	c.RecordOutcome(OutcomeCompleted)
	c.AbsorbPolicyStats(DeliveryStats{})

	if s := c.Snapshot(); s.StreamsStarted != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("strict", "sse", "s")
	c.IncFragment("thought")
	s := c.Snapshot()
	c.IncFragment("thought")

	if s.FragmentsByKind["thought"] != 1 {
		t.Errorf("snapshot mutated: %d", s.FragmentsByKind["thought"])
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("buffered", "sse", "s")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncChunk(1)
				c.IncFragment("text_delta")
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ChunksReceived != 800 {
		t.Errorf("ChunksReceived = %d, want 800", s.ChunksReceived)
	}
	if s.FragmentsByKind["text_delta"] != 800 {
		t.Errorf("FragmentsByKind[text_delta] = %d, want 800", s.FragmentsByKind["text_delta"])
	}
}
