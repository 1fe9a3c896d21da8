// Package monitoring provides observability for the forecast cache system.
//
// Design Choices:
//
// 1. Event-driven ingestion: invalidation, warming, and forecast completion
// events arrive over Pub/Sub, so monitoring never sits in any request path.
//
// 2. Scraped gauges: cache hit and miss counters are pulled from the
// resultcache stats endpoint on a cron schedule and converted to deltas,
// which keeps the cache itself free of per-operation event publishing.
//
// 3. Bounded memory: a fixed ring buffer for latency samples and a
// retention-pruned time series for windowed queries.
//
// Performance Characteristics:
//   - Ingestion: O(1) per event, atomic counters on the hot path
//   - Window queries: O(buckets) per request
//   - Alert evaluation: fixed rule set on a 10s interval
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"encore.dev/cron"
	"encore.dev/pubsub"
	"encore.dev/rlog"

	"encore.app/forecast"
	"encore.app/pkg/models"
	events "encore.app/pkg/pubsub"
	"encore.app/resultcache"
)

// Config holds monitoring tuning.
type Config struct {
	MetricsRetention  time.Duration
	AlertWindow       time.Duration
	AlertEvalInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MetricsRetention:  time.Hour,
		AlertWindow:       5 * time.Minute,
		AlertEvalInterval: 10 * time.Second,
	}
}

//encore:service
type Service struct {
	collector  *MetricsCollector
	aggregator *Aggregator
	alerts     *AlertManager
	config     Config
	startedAt  time.Time

	// Last scraped cache stats, for delta computation.
	scrapeMu   sync.Mutex
	lastScrape models.StatsSnapshot
	hasScrape  bool
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		config := DefaultConfig()
		collector := NewMetricsCollector(config.MetricsRetention)
		aggregator := NewAggregator(collector)
		alerts := NewAlertManager(aggregator, config.AlertWindow, config.AlertEvalInterval)

		s := &Service{
			collector:  collector,
			aggregator: aggregator,
			alerts:     alerts,
			config:     config,
			startedAt:  time.Now(),
		}

		go alerts.Run()
		svc = s
	})
	return svc, nil
}

// MetricsRequest selects the aggregation window.
type MetricsRequest struct {
	WindowSeconds int `query:"window_seconds"` // default 60
}

// MetricsResponse is a point-in-time view of the system.
type MetricsResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Window    WindowStats `json:"window"`
	Lifetime  Counters    `json:"lifetime"`
}

// GetMetrics returns windowed and lifetime metrics.
//
//encore:api public method=GET path=/monitoring/metrics
func GetMetrics(ctx context.Context, req *MetricsRequest) (*MetricsResponse, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	return svc.GetMetrics(ctx, req)
}

func (s *Service) GetMetrics(ctx context.Context, req *MetricsRequest) (*MetricsResponse, error) {
	window := time.Duration(req.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	if window > s.config.MetricsRetention {
		return nil, errors.New("window exceeds metrics retention")
	}

	now := time.Now()
	return &MetricsResponse{
		Timestamp: now,
		Window:    s.aggregator.Window(now.Add(-window), now),
		Lifetime:  s.collector.GetCounters(),
	}, nil
}

// AlertsResponse lists firing and recently resolved alerts.
type AlertsResponse struct {
	Active []Alert    `json:"active"`
	Recent []Alert    `json:"recent"`
	Stats  AlertStats `json:"stats"`
}

// GetAlerts returns current alert state.
//
//encore:api public method=GET path=/monitoring/alerts
func GetAlerts(ctx context.Context) (*AlertsResponse, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	return svc.GetAlerts(ctx)
}

func (s *Service) GetAlerts(ctx context.Context) (*AlertsResponse, error) {
	return &AlertsResponse{
		Active: s.alerts.GetActive(),
		Recent: s.alerts.GetRecentResolved(10),
		Stats:  s.alerts.GetStats(),
	}, nil
}

var _ = pubsub.NewSubscription(
	resultcache.InvalidationTopic,
	"monitoring-invalidation",
	pubsub.SubscriptionConfig[*events.InvalidationEvent]{
		Handler: HandleInvalidation,
	},
)

// HandleInvalidation records invalidation volume by scope.
func HandleInvalidation(ctx context.Context, event *events.InvalidationEvent) error {
	if _, err := initService(); err != nil {
		return err
	}

	svc.collector.Record(MetricEvent{
		Type:      MetricInvalidation,
		Value:     float64(event.Removed),
		Timestamp: event.TriggeredAt,
		Source:    event.Service,
		Labels:    map[string]string{"scope": string(event.Scope)},
	})
	return nil
}

var _ = pubsub.NewSubscription(
	resultcache.WarmCompletedTopic,
	"monitoring-warm-completed",
	pubsub.SubscriptionConfig[*events.WarmCompletedEvent]{
		Handler: HandleWarmCompleted,
	},
)

// HandleWarmCompleted records warming outcomes and durations.
func HandleWarmCompleted(ctx context.Context, event *events.WarmCompletedEvent) error {
	if _, err := initService(); err != nil {
		return err
	}

	metricType := MetricWarm
	if event.Status != "success" {
		metricType = MetricWarmFailure
	}
	svc.collector.Record(MetricEvent{
		Type:      metricType,
		Value:     1,
		Timestamp: event.TriggeredAt,
		Source:    "warming",
		Labels:    map[string]string{"namespace": event.Namespace, "reason": event.Reason},
	})
	svc.collector.Record(MetricEvent{
		Type:      MetricLatency,
		Value:     float64(event.DurationMs),
		Timestamp: event.TriggeredAt,
		Source:    "warming",
		Labels:    map[string]string{"operation": "warm"},
	})
	return nil
}

var _ = pubsub.NewSubscription(
	forecast.ForecastGeneratedTopic,
	"monitoring-forecast-generated",
	pubsub.SubscriptionConfig[*events.ForecastGeneratedEvent]{
		Handler: HandleForecastGenerated,
	},
)

// HandleForecastGenerated records build outcomes, engine health, and
// synthesis degradation.
func HandleForecastGenerated(ctx context.Context, event *events.ForecastGeneratedEvent) error {
	if _, err := initService(); err != nil {
		return err
	}

	svc.collector.Record(MetricEvent{
		Type:      MetricForecastBuild,
		Value:     1,
		Timestamp: event.TriggeredAt,
		Source:    "forecast",
		Labels:    map[string]string{"kind": event.Kind},
	})
	svc.collector.Record(MetricEvent{
		Type:      MetricLatency,
		Value:     float64(event.DurationMs),
		Timestamp: event.TriggeredAt,
		Source:    "forecast",
		Labels:    map[string]string{"operation": event.Kind},
	})
	if event.EngineFailures > 0 {
		svc.collector.Record(MetricEvent{
			Type:      MetricEngineFailure,
			Value:     float64(event.EngineFailures),
			Timestamp: event.TriggeredAt,
			Source:    "forecast",
		})
	}
	if event.SynthesisSource == string(models.SourceFallback) {
		svc.collector.Record(MetricEvent{
			Type:      MetricFallback,
			Value:     1,
			Timestamp: event.TriggeredAt,
			Source:    "forecast",
		})
	}
	return nil
}

// Pull cache counters on a fixed schedule; the cache never pushes
// per-operation events.
var _ = cron.NewJob("scrape-cache-stats", cron.JobConfig{
	Title:    "Scrape result cache statistics",
	Schedule: "*/5 * * * *",
	Endpoint: ScrapeCacheStats,
})

// ScrapeCacheStats pulls the cache stats endpoint and records counter deltas.
//
//encore:api private
func ScrapeCacheStats(ctx context.Context) error {
	if _, err := initService(); err != nil {
		return err
	}
	return svc.ScrapeCacheStats(ctx)
}

func (s *Service) ScrapeCacheStats(ctx context.Context) error {
	resp, err := resultcache.Stats(ctx)
	if err != nil {
		return err
	}
	s.recordScrape(resp.Total)
	return nil
}

// recordScrape converts monotonic counters into deltas since the previous
// scrape. The first scrape only seeds the baseline.
func (s *Service) recordScrape(total models.StatsSnapshot) {
	s.scrapeMu.Lock()
	prev, seeded := s.lastScrape, s.hasScrape
	s.lastScrape = total
	s.hasScrape = true
	s.scrapeMu.Unlock()

	if !seeded {
		return
	}

	now := time.Now()
	record := func(t MetricType, cur, old uint64) {
		if cur > old {
			s.collector.Record(MetricEvent{
				Type:      t,
				Value:     float64(cur - old),
				Timestamp: now,
				Source:    "resultcache",
			})
		}
	}
	record(MetricCacheHit, total.Hits, prev.Hits)
	record(MetricCacheMiss, total.Misses, prev.Misses)
	record(MetricCacheRefusal, total.Refusals, prev.Refusals)
	record(MetricCacheEviction, total.Evictions, prev.Evictions)

	rlog.Debug("scraped cache stats",
		"hits", total.Hits, "misses", total.Misses, "entries", total.Entries)
}

// Shutdown stops the alert loop.
func (s *Service) Shutdown() {
	s.alerts.Stop()
}
