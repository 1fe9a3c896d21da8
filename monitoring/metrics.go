package monitoring

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType tags one observability event.
type MetricType string

const (
	MetricCacheHit      MetricType = "cache.hit"
	MetricCacheMiss     MetricType = "cache.miss"
	MetricCacheRefusal  MetricType = "cache.refusal"
	MetricCacheEviction MetricType = "cache.eviction"
	MetricInvalidation  MetricType = "invalidation"
	MetricWarm          MetricType = "warm"
	MetricWarmFailure   MetricType = "warm.failure"
	MetricForecastBuild MetricType = "forecast.build"
	MetricEngineFailure MetricType = "engine.failure"
	MetricFallback      MetricType = "synthesis.fallback"
	MetricLatency       MetricType = "latency"
	MetricError         MetricType = "error"
)

// MetricEvent is a single observation from any service.
type MetricEvent struct {
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"` // "resultcache", "forecast", "warming"
	Labels    map[string]string `json:"labels,omitempty"`
}

// MetricsCollector ingests events into atomic counters, a latency ring
// buffer, and a time-bucketed series for windowed queries.
//
// The ring buffer tolerates occasional sample loss under contention, which
// is acceptable for monitoring data.
type MetricsCollector struct {
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	refusals       atomic.Int64
	evictions      atomic.Int64
	invalidations  atomic.Int64
	keysRemoved    atomic.Int64
	warms          atomic.Int64
	warmFailures   atomic.Int64
	forecastBuilds atomic.Int64
	engineFailures atomic.Int64
	fallbacks      atomic.Int64
	errors         atomic.Int64

	latencyBuffer *RingBuffer
	series        *TimeSeries
}

// NewMetricsCollector creates a collector with the given retention.
func NewMetricsCollector(retention time.Duration) *MetricsCollector {
	return &MetricsCollector{
		latencyBuffer: NewRingBuffer(10000),
		series:        NewTimeSeries(retention),
	}
}

// Record ingests one event.
// Complexity: O(1) for counters, O(1) amortized for the series.
func (mc *MetricsCollector) Record(event MetricEvent) {
	switch event.Type {
	case MetricCacheHit:
		mc.cacheHits.Add(int64(event.Value))
	case MetricCacheMiss:
		mc.cacheMisses.Add(int64(event.Value))
	case MetricCacheRefusal:
		mc.refusals.Add(int64(event.Value))
	case MetricCacheEviction:
		mc.evictions.Add(int64(event.Value))
	case MetricInvalidation:
		mc.invalidations.Add(1)
		mc.keysRemoved.Add(int64(event.Value))
	case MetricWarm:
		mc.warms.Add(int64(event.Value))
	case MetricWarmFailure:
		mc.warmFailures.Add(int64(event.Value))
	case MetricForecastBuild:
		mc.forecastBuilds.Add(int64(event.Value))
	case MetricEngineFailure:
		mc.engineFailures.Add(int64(event.Value))
	case MetricFallback:
		mc.fallbacks.Add(int64(event.Value))
	case MetricError:
		mc.errors.Add(int64(event.Value))
	case MetricLatency:
		mc.latencyBuffer.Add(event.Value, event.Timestamp)
	}

	mc.series.Add(event)
}

// Counters is a snapshot of the lifetime counter values.
type Counters struct {
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	Refusals       int64 `json:"refusals"`
	Evictions      int64 `json:"evictions"`
	Invalidations  int64 `json:"invalidations"`
	KeysRemoved    int64 `json:"keys_removed"`
	Warms          int64 `json:"warms"`
	WarmFailures   int64 `json:"warm_failures"`
	ForecastBuilds int64 `json:"forecast_builds"`
	EngineFailures int64 `json:"engine_failures"`
	Fallbacks      int64 `json:"fallbacks"`
	Errors         int64 `json:"errors"`
}

func (mc *MetricsCollector) GetCounters() Counters {
	return Counters{
		CacheHits:      mc.cacheHits.Load(),
		CacheMisses:    mc.cacheMisses.Load(),
		Refusals:       mc.refusals.Load(),
		Evictions:      mc.evictions.Load(),
		Invalidations:  mc.invalidations.Load(),
		KeysRemoved:    mc.keysRemoved.Load(),
		Warms:          mc.warms.Load(),
		WarmFailures:   mc.warmFailures.Load(),
		ForecastBuilds: mc.forecastBuilds.Load(),
		EngineFailures: mc.engineFailures.Load(),
		Fallbacks:      mc.fallbacks.Load(),
		Errors:         mc.errors.Load(),
	}
}

// GetLatencyStats computes percentiles over the retained latency samples.
func (mc *MetricsCollector) GetLatencyStats() LatencyStats {
	return calculateLatencyStats(mc.latencyBuffer.GetAll())
}

// LatencyStats holds latency percentile statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RingBuffer is a circular buffer for latency samples.
//
// Add uses atomic CAS on the head pointer; GetAll takes a read lock.
// Complexity: Add O(1), GetAll O(n).
type RingBuffer struct {
	buffer []Sample
	head   atomic.Uint64
	count  atomic.Uint64
	size   uint64
	mu     sync.RWMutex
}

// Sample is one latency observation.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]Sample, size),
		size:   uint64(size),
	}
}

// Add claims the next slot and writes the sample.
func (rb *RingBuffer) Add(value float64, timestamp time.Time) {
	for {
		head := rb.head.Load()
		next := (head + 1) % rb.size
		if rb.head.CompareAndSwap(head, next) {
			rb.buffer[head] = Sample{Value: value, Timestamp: timestamp}
			if rb.count.Load() < rb.size {
				rb.count.Add(1)
			}
			return
		}
	}
}

// GetAll returns the retained samples, oldest first.
func (rb *RingBuffer) GetAll() []Sample {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.count.Load()
	if count == 0 {
		return nil
	}

	head := rb.head.Load()
	start := (head + rb.size - count) % rb.size

	result := make([]Sample, 0, count)
	for i := uint64(0); i < count; i++ {
		result = append(result, rb.buffer[(start+i)%rb.size])
	}
	return result
}

// calculateLatencyStats computes percentile statistics from samples.
// Complexity: O(n log n) due to sorting.
func calculateLatencyStats(samples []Sample) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	values := make([]float64, len(samples))
	sum := 0.0
	min := math.MaxFloat64
	max := 0.0
	for i, sample := range samples {
		values[i] = sample.Value
		sum += sample.Value
		if sample.Value < min {
			min = sample.Value
		}
		if sample.Value > max {
			max = sample.Value
		}
	}
	sort.Float64s(values)

	return LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(len(values)),
		P50:   percentile(values, 0.50),
		P90:   percentile(values, 0.90),
		P95:   percentile(values, 0.95),
		P99:   percentile(values, 0.99),
		Count: len(values),
	}
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	index := p * float64(len(values)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return values[lower]
	}

	weight := index - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}

// TimeSeries stores per-second aggregate buckets for time-range queries.
// Old buckets are dropped lazily as new events arrive.
type TimeSeries struct {
	mu          sync.RWMutex
	buckets     map[int64]*Bucket
	retention   time.Duration
	lastCleanup time.Time
}

// Bucket aggregates one second of events.
type Bucket struct {
	Timestamp      time.Time
	CacheHits      int64
	CacheMisses    int64
	Warms          int64
	WarmFailures   int64
	ForecastBuilds int64
	EngineFailures int64
	Fallbacks      int64
	Invalidations  int64
	Errors         int64
	Latencies      []float64
}

func NewTimeSeries(retention time.Duration) *TimeSeries {
	return &TimeSeries{
		buckets:     make(map[int64]*Bucket),
		retention:   retention,
		lastCleanup: time.Now(),
	}
}

// Add aggregates an event into its second bucket.
// Complexity: O(1) amortized, occasional cleanup is O(n).
func (ts *TimeSeries) Add(event MetricEvent) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	key := event.Timestamp.Unix()
	bucket, ok := ts.buckets[key]
	if !ok {
		bucket = &Bucket{Timestamp: time.Unix(key, 0)}
		ts.buckets[key] = bucket
	}

	switch event.Type {
	case MetricCacheHit:
		bucket.CacheHits += int64(event.Value)
	case MetricCacheMiss:
		bucket.CacheMisses += int64(event.Value)
	case MetricWarm:
		bucket.Warms += int64(event.Value)
	case MetricWarmFailure:
		bucket.WarmFailures += int64(event.Value)
	case MetricForecastBuild:
		bucket.ForecastBuilds += int64(event.Value)
	case MetricEngineFailure:
		bucket.EngineFailures += int64(event.Value)
	case MetricFallback:
		bucket.Fallbacks += int64(event.Value)
	case MetricInvalidation:
		bucket.Invalidations++
	case MetricError:
		bucket.Errors += int64(event.Value)
	case MetricLatency:
		bucket.Latencies = append(bucket.Latencies, event.Value)
	}

	if time.Since(ts.lastCleanup) > time.Minute {
		ts.cleanup()
		ts.lastCleanup = time.Now()
	}
}

// GetRange returns buckets within [start, end], ordered by time.
func (ts *TimeSeries) GetRange(start, end time.Time) []*Bucket {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	startKey, endKey := start.Unix(), end.Unix()
	result := make([]*Bucket, 0)
	for key, bucket := range ts.buckets {
		if key >= startKey && key <= endKey {
			result = append(result, bucket)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func (ts *TimeSeries) cleanup() {
	cutoff := time.Now().Add(-ts.retention).Unix()
	for key := range ts.buckets {
		if key < cutoff {
			delete(ts.buckets, key)
		}
	}
}
