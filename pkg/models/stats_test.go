package models

import "testing"

func TestMergeSnapshots(t *testing.T) {
	a := NewStatsSnapshot(8, 2, 5, 1, 0, 3, 4)
	b := NewStatsSnapshot(2, 8, 1, 0, 2, 0, 6)

	merged := MergeSnapshots(a, b)

	if merged.Hits != 10 || merged.Misses != 10 {
		t.Errorf("Expected 10 hits / 10 misses, got %d / %d", merged.Hits, merged.Misses)
	}
	if merged.Sets != 6 || merged.Refusals != 1 || merged.Deletes != 2 {
		t.Errorf("Counter sums wrong: %+v", merged)
	}
	if merged.Evictions != 3 || merged.Entries != 10 {
		t.Errorf("Expected 3 evictions / 10 entries, got %d / %d", merged.Evictions, merged.Entries)
	}

	// Derived rates are recalculated from the summed counters, not averaged.
	if merged.HitRate != 0.5 || merged.MissRate != 0.5 {
		t.Errorf("Expected recalculated rates 0.5 / 0.5, got %v / %v", merged.HitRate, merged.MissRate)
	}
}

func TestMergeSnapshotsZero(t *testing.T) {
	merged := MergeSnapshots(StatsSnapshot{}, StatsSnapshot{})
	if merged.HitRate != 0 || merged.TotalRequests() != 0 {
		t.Errorf("Empty merge should stay zeroed: %+v", merged)
	}
}

func TestRefusalRate(t *testing.T) {
	s := NewStatsSnapshot(0, 0, 3, 1, 0, 0, 0)
	if got := s.RefusalRate(); got != 0.25 {
		t.Errorf("Expected refusal rate 0.25, got %v", got)
	}

	empty := StatsSnapshot{}
	if got := empty.RefusalRate(); got != 0 {
		t.Errorf("Expected 0 refusal rate with no set attempts, got %v", got)
	}
}
