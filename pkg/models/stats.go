package models

import (
	"sort"
	"time"
)

// StatsSnapshot represents a point-in-time snapshot of result-cache counters.
//
// Counters are monotonically accumulated by the cache service; derived fields
// (HitRate, MissRate) are calculated at snapshot time. All fields should be
// treated as immutable after creation.
type StatsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Counter metrics
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Refusals  uint64 `json:"refusals"` // admissions declined (not errors)
	Deletes   uint64 `json:"deletes"`
	Evictions uint64 `json:"evictions"`

	// Size metrics
	Entries uint64 `json:"entries"` // live entries at snapshot time

	// Derived metrics
	HitRate  float64 `json:"hit_rate"`
	MissRate float64 `json:"miss_rate"`
}

// NewStatsSnapshot creates a snapshot with calculated derived fields.
func NewStatsSnapshot(hits, misses, sets, refusals, deletes, evictions, entries uint64) StatsSnapshot {
	total := hits + misses
	hitRate := 0.0
	missRate := 0.0

	if total > 0 {
		hitRate = float64(hits) / float64(total)
		missRate = float64(misses) / float64(total)
	}

	return StatsSnapshot{
		Timestamp: time.Now(),
		Hits:      hits,
		Misses:    misses,
		Sets:      sets,
		Refusals:  refusals,
		Deletes:   deletes,
		Evictions: evictions,
		Entries:   entries,
		HitRate:   hitRate,
		MissRate:  missRate,
	}
}

// TotalRequests returns the total number of cache lookups.
func (s *StatsSnapshot) TotalRequests() uint64 {
	return s.Hits + s.Misses
}

// RefusalRate returns admission refusals per attempted set (0-1 range).
func (s *StatsSnapshot) RefusalRate() float64 {
	attempts := s.Sets + s.Refusals
	if attempts == 0 {
		return 0
	}
	return float64(s.Refusals) / float64(attempts)
}

// MergeSnapshots combines two snapshots, recalculating derived fields.
// Complexity: O(1)
//
// Usage: aggregate per-namespace snapshots into a cache-wide total.
func MergeSnapshots(a, b StatsSnapshot) StatsSnapshot {
	merged := NewStatsSnapshot(
		a.Hits+b.Hits,
		a.Misses+b.Misses,
		a.Sets+b.Sets,
		a.Refusals+b.Refusals,
		a.Deletes+b.Deletes,
		a.Evictions+b.Evictions,
		a.Entries+b.Entries,
	)
	return merged
}

// NamespaceStats pairs a namespace with its snapshot for stats responses.
type NamespaceStats struct {
	Namespace string        `json:"namespace"`
	Stats     StatsSnapshot `json:"stats"`
}

// SortNamespaceStats orders per-namespace stats by request volume, descending,
// with namespace name as the tiebreaker. Gives stats endpoints a stable order.
func SortNamespaceStats(stats []NamespaceStats) {
	sort.Slice(stats, func(i, j int) bool {
		ri, rj := stats[i].Stats.TotalRequests(), stats[j].Stats.TotalRequests()
		if ri != rj {
			return ri > rj
		}
		return stats[i].Namespace < stats[j].Namespace
	})
}
