package monitoring

import (
	"time"
)

// WindowStats summarizes one time window of the series.
type WindowStats struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Requests       int64   `json:"requests"` // cache hits + misses
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	HitRate        float64 `json:"hit_rate"`
	QPS            float64 `json:"qps"`
	Warms          int64   `json:"warms"`
	WarmFailures   int64   `json:"warm_failures"`
	WarmFailRate   float64 `json:"warm_fail_rate"`
	ForecastBuilds int64   `json:"forecast_builds"`
	EngineFailures int64   `json:"engine_failures"`
	Fallbacks      int64   `json:"fallbacks"`
	FallbackRate   float64 `json:"fallback_rate"`
	Invalidations  int64   `json:"invalidations"`
	Errors         int64   `json:"errors"`
	ErrorRate      float64 `json:"error_rate"`

	Latency LatencyStats `json:"latency"`
}

// Aggregator computes windowed statistics over the collector's series.
type Aggregator struct {
	collector *MetricsCollector
}

func NewAggregator(collector *MetricsCollector) *Aggregator {
	return &Aggregator{collector: collector}
}

// Window aggregates the buckets in [start, end].
// Complexity: O(n) over buckets plus O(m log m) over latency samples.
func (a *Aggregator) Window(start, end time.Time) WindowStats {
	buckets := a.collector.series.GetRange(start, end)

	stats := WindowStats{Start: start, End: end}
	latencies := make([]Sample, 0)

	for _, bucket := range buckets {
		stats.CacheHits += bucket.CacheHits
		stats.CacheMisses += bucket.CacheMisses
		stats.Warms += bucket.Warms
		stats.WarmFailures += bucket.WarmFailures
		stats.ForecastBuilds += bucket.ForecastBuilds
		stats.EngineFailures += bucket.EngineFailures
		stats.Fallbacks += bucket.Fallbacks
		stats.Invalidations += bucket.Invalidations
		stats.Errors += bucket.Errors
		for _, v := range bucket.Latencies {
			latencies = append(latencies, Sample{Value: v, Timestamp: bucket.Timestamp})
		}
	}

	stats.Requests = stats.CacheHits + stats.CacheMisses
	stats.HitRate = ratio(stats.CacheHits, stats.Requests)
	stats.WarmFailRate = ratio(stats.WarmFailures, stats.Warms+stats.WarmFailures)
	stats.FallbackRate = ratio(stats.Fallbacks, stats.ForecastBuilds)
	stats.ErrorRate = ratio(stats.Errors, stats.Requests)
	if seconds := end.Sub(start).Seconds(); seconds > 0 {
		stats.QPS = float64(stats.Requests) / seconds
	}
	stats.Latency = calculateLatencyStats(latencies)

	return stats
}

func ratio(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
