package monitoring

import (
	"context"
	"testing"
	"time"

	"encore.app/pkg/models"
	events "encore.app/pkg/pubsub"
)

func freshService() *Service {
	config := DefaultConfig()
	collector := NewMetricsCollector(config.MetricsRetention)
	aggregator := NewAggregator(collector)
	return &Service{
		collector:  collector,
		aggregator: aggregator,
		alerts:     NewAlertManager(aggregator, config.AlertWindow, config.AlertEvalInterval),
		config:     config,
		startedAt:  time.Now(),
	}
}

// withService swaps the global service for the duration of a handler test.
func withService(t *testing.T, s *Service, fn func()) {
	t.Helper()
	if _, err := initService(); err != nil {
		t.Fatalf("initService failed: %v", err)
	}
	saved := svc
	svc = s
	defer func() { svc = saved }()
	fn()
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(4)

	if got := rb.GetAll(); len(got) != 0 {
		t.Fatalf("empty buffer returned %d samples", len(got))
	}

	now := time.Now()
	for i := 1; i <= 3; i++ {
		rb.Add(float64(i), now)
	}

	samples := rb.GetAll()
	if len(samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(samples))
	}
	for i, sample := range samples {
		if sample.Value != float64(i+1) {
			t.Errorf("sample %d = %v, want %d", i, sample.Value, i+1)
		}
	}

	// Overflow: oldest samples are overwritten.
	for i := 4; i <= 10; i++ {
		rb.Add(float64(i), now)
	}
	samples = rb.GetAll()
	if len(samples) != 4 {
		t.Fatalf("samples after overflow = %d, want 4", len(samples))
	}
	if samples[0].Value != 7 || samples[3].Value != 10 {
		t.Errorf("window = [%v..%v], want [7..10]", samples[0].Value, samples[3].Value)
	}
}

func TestLatencyStats(t *testing.T) {
	now := time.Now()
	samples := make([]Sample, 0, 100)
	for i := 1; i <= 100; i++ {
		samples = append(samples, Sample{Value: float64(i), Timestamp: now})
	}

	stats := calculateLatencyStats(samples)
	if stats.Count != 100 {
		t.Errorf("count = %d", stats.Count)
	}
	if stats.Min != 1 || stats.Max != 100 {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.Avg != 50.5 {
		t.Errorf("avg = %v, want 50.5", stats.Avg)
	}
	if stats.P50 < 50 || stats.P50 > 51 {
		t.Errorf("p50 = %v", stats.P50)
	}
	if stats.P99 < 99 || stats.P99 > 100 {
		t.Errorf("p99 = %v", stats.P99)
	}

	if empty := calculateLatencyStats(nil); empty.Count != 0 {
		t.Errorf("empty stats count = %d", empty.Count)
	}
}

func TestCollectorCounters(t *testing.T) {
	collector := NewMetricsCollector(time.Hour)
	now := time.Now()

	collector.Record(MetricEvent{Type: MetricCacheHit, Value: 3, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricCacheMiss, Value: 1, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricInvalidation, Value: 12, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricWarmFailure, Value: 1, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricLatency, Value: 42, Timestamp: now})

	counters := collector.GetCounters()
	if counters.CacheHits != 3 || counters.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d", counters.CacheHits, counters.CacheMisses)
	}
	if counters.Invalidations != 1 || counters.KeysRemoved != 12 {
		t.Errorf("invalidations = %d, keys removed = %d", counters.Invalidations, counters.KeysRemoved)
	}
	if counters.WarmFailures != 1 {
		t.Errorf("warm failures = %d", counters.WarmFailures)
	}

	latency := collector.GetLatencyStats()
	if latency.Count != 1 || latency.Avg != 42 {
		t.Errorf("latency = %+v", latency)
	}
}

func TestAggregatorWindow(t *testing.T) {
	collector := NewMetricsCollector(time.Hour)
	aggregator := NewAggregator(collector)
	now := time.Now()

	for i := 0; i < 8; i++ {
		collector.Record(MetricEvent{Type: MetricCacheHit, Value: 1, Timestamp: now})
	}
	for i := 0; i < 2; i++ {
		collector.Record(MetricEvent{Type: MetricCacheMiss, Value: 1, Timestamp: now})
	}
	collector.Record(MetricEvent{Type: MetricForecastBuild, Value: 1, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricFallback, Value: 1, Timestamp: now})
	collector.Record(MetricEvent{Type: MetricLatency, Value: 120, Timestamp: now})

	stats := aggregator.Window(now.Add(-time.Minute), now.Add(time.Second))
	if stats.Requests != 10 {
		t.Errorf("requests = %d, want 10", stats.Requests)
	}
	if stats.HitRate != 0.8 {
		t.Errorf("hit rate = %v, want 0.8", stats.HitRate)
	}
	if stats.FallbackRate != 1.0 {
		t.Errorf("fallback rate = %v, want 1.0", stats.FallbackRate)
	}
	if stats.Latency.Count != 1 || stats.Latency.Avg != 120 {
		t.Errorf("latency = %+v", stats.Latency)
	}

	// A window in the past sees nothing.
	empty := aggregator.Window(now.Add(-time.Hour), now.Add(-30*time.Minute))
	if empty.Requests != 0 {
		t.Errorf("past window requests = %d", empty.Requests)
	}
}

func TestAlertRules(t *testing.T) {
	cases := []struct {
		name  string
		rule  AlertRule
		stats WindowStats
		fires bool
	}{
		{"hit rate below floor", &lowHitRateRule{threshold: 0.5, minRequests: 50},
			WindowStats{Requests: 100, HitRate: 0.2}, true},
		{"hit rate healthy", &lowHitRateRule{threshold: 0.5, minRequests: 50},
			WindowStats{Requests: 100, HitRate: 0.9}, false},
		{"hit rate low but too little traffic", &lowHitRateRule{threshold: 0.5, minRequests: 50},
			WindowStats{Requests: 10, HitRate: 0.1}, false},
		{"warm failures", &warmFailureRule{threshold: 0.5, minWarms: 10},
			WindowStats{Warms: 2, WarmFailures: 18, WarmFailRate: 0.9}, true},
		{"warm failures below volume", &warmFailureRule{threshold: 0.5, minWarms: 10},
			WindowStats{Warms: 1, WarmFailures: 3, WarmFailRate: 0.75}, false},
		{"fallback saturation", &fallbackRule{threshold: 0.9, minBuilds: 10},
			WindowStats{ForecastBuilds: 20, FallbackRate: 0.95}, true},
		{"fallback normal", &fallbackRule{threshold: 0.9, minBuilds: 10},
			WindowStats{ForecastBuilds: 20, FallbackRate: 0.3}, false},
		{"engine failure burst", &engineFailureRule{threshold: 20},
			WindowStats{EngineFailures: 31}, true},
		{"engine failures tolerable", &engineFailureRule{threshold: 20},
			WindowStats{EngineFailures: 5}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := tc.rule.Evaluate(tc.stats)
			if tc.fires && alert == nil {
				t.Error("expected alert, got nil")
			}
			if !tc.fires && alert != nil {
				t.Errorf("unexpected alert: %+v", alert)
			}
		})
	}
}

func TestAlertManager_TriggerAndResolve(t *testing.T) {
	collector := NewMetricsCollector(time.Hour)
	aggregator := NewAggregator(collector)
	// 1s window so the condition clears once traffic ages out.
	manager := NewAlertManager(aggregator, time.Second, time.Hour)

	now := time.Now()
	for i := 0; i < 60; i++ {
		collector.Record(MetricEvent{Type: MetricCacheMiss, Value: 1, Timestamp: now})
	}

	manager.Evaluate()
	active := manager.GetActive()
	if len(active) != 1 || active[0].Type != AlertLowHitRate {
		t.Fatalf("active alerts = %+v, want single low_hit_rate", active)
	}

	// Re-evaluation while firing updates rather than duplicates.
	manager.Evaluate()
	if stats := manager.GetStats(); stats.TotalTriggered != 1 {
		t.Errorf("triggered = %d, want 1", stats.TotalTriggered)
	}

	time.Sleep(1100 * time.Millisecond)
	manager.Evaluate()

	if active := manager.GetActive(); len(active) != 0 {
		t.Errorf("alerts still active after window cleared: %+v", active)
	}
	stats := manager.GetStats()
	if stats.TotalResolved != 1 {
		t.Errorf("resolved = %d, want 1", stats.TotalResolved)
	}
	recent := manager.GetRecentResolved(10)
	if len(recent) != 1 || !recent[0].Resolved {
		t.Errorf("recent resolved = %+v", recent)
	}
}

func TestHandleInvalidation(t *testing.T) {
	s := freshService()
	withService(t, s, func() {
		err := HandleInvalidation(context.Background(), &events.InvalidationEvent{
			Version:     events.EventVersion1,
			Service:     "resultcache",
			Scope:       "namespace",
			Namespace:   "daily-forecast",
			Removed:     7,
			TriggeredAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	})

	counters := s.collector.GetCounters()
	if counters.Invalidations != 1 || counters.KeysRemoved != 7 {
		t.Errorf("counters = %+v", counters)
	}
}

func TestHandleWarmCompleted(t *testing.T) {
	s := freshService()
	withService(t, s, func() {
		now := time.Now()
		success := &events.WarmCompletedEvent{
			Version: events.EventVersion1, JobID: "job-1", Namespace: "daily-forecast",
			Key: "k1", Status: "success", DurationMs: 80, TriggeredAt: now,
		}
		failure := &events.WarmCompletedEvent{
			Version: events.EventVersion1, JobID: "job-1", Namespace: "daily-forecast",
			Key: "k2", Status: "failure", Reason: "below_confidence_threshold",
			DurationMs: 15, TriggeredAt: now,
		}
		if err := HandleWarmCompleted(context.Background(), success); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if err := HandleWarmCompleted(context.Background(), failure); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	})

	counters := s.collector.GetCounters()
	if counters.Warms != 1 || counters.WarmFailures != 1 {
		t.Errorf("warms = %d, failures = %d", counters.Warms, counters.WarmFailures)
	}
	if latency := s.collector.GetLatencyStats(); latency.Count != 2 {
		t.Errorf("latency samples = %d, want 2", latency.Count)
	}
}

func TestHandleForecastGenerated(t *testing.T) {
	s := freshService()
	withService(t, s, func() {
		err := HandleForecastGenerated(context.Background(), &events.ForecastGeneratedEvent{
			Version:         events.EventVersion1,
			SubjectID:       "subject-1",
			Kind:            "daily",
			Date:            time.Now(),
			SynthesisSource: "fallback",
			EngineSuccesses: 1,
			EngineFailures:  2,
			DurationMs:      230,
			TriggeredAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
	})

	counters := s.collector.GetCounters()
	if counters.ForecastBuilds != 1 {
		t.Errorf("builds = %d", counters.ForecastBuilds)
	}
	if counters.EngineFailures != 2 {
		t.Errorf("engine failures = %d", counters.EngineFailures)
	}
	if counters.Fallbacks != 1 {
		t.Errorf("fallbacks = %d", counters.Fallbacks)
	}
}

func TestRecordScrape_Deltas(t *testing.T) {
	s := freshService()

	first := models.StatsSnapshot{Hits: 100, Misses: 40, Refusals: 5, Evictions: 2}
	s.recordScrape(first)

	// The seeding scrape must not record anything.
	if counters := s.collector.GetCounters(); counters.CacheHits != 0 {
		t.Errorf("seed scrape recorded hits: %+v", counters)
	}

	second := models.StatsSnapshot{Hits: 130, Misses: 50, Refusals: 5, Evictions: 6}
	s.recordScrape(second)

	counters := s.collector.GetCounters()
	if counters.CacheHits != 30 || counters.CacheMisses != 10 {
		t.Errorf("hit/miss deltas = %d/%d, want 30/10", counters.CacheHits, counters.CacheMisses)
	}
	if counters.Refusals != 0 {
		t.Errorf("refusal delta = %d, want 0", counters.Refusals)
	}
	if counters.Evictions != 4 {
		t.Errorf("eviction delta = %d, want 4", counters.Evictions)
	}
}

func TestGetMetricsWindowBounds(t *testing.T) {
	s := freshService()
	ctx := context.Background()

	if _, err := s.GetMetrics(ctx, &MetricsRequest{WindowSeconds: 0}); err != nil {
		t.Errorf("default window rejected: %v", err)
	}
	if _, err := s.GetMetrics(ctx, &MetricsRequest{WindowSeconds: 7200}); err == nil {
		t.Error("window beyond retention accepted")
	}
}
