package monitoring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// AlertType categorizes an alert.
type AlertType string

const (
	AlertLowHitRate        AlertType = "low_hit_rate"
	AlertWarmFailures      AlertType = "warm_failures"
	AlertSynthesisDegraded AlertType = "synthesis_degraded"
	AlertEngineFailures    AlertType = "engine_failures"
)

// Alert is one triggered or resolved condition.
type Alert struct {
	ID           string     `json:"id"`
	Type         AlertType  `json:"type"`
	Severity     string     `json:"severity"` // "warning" or "critical"
	CurrentValue float64    `json:"current_value"`
	Threshold    float64    `json:"threshold"`
	Message      string     `json:"message"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Resolved     bool       `json:"resolved"`
}

// AlertRule is one evaluated condition. Evaluate returns nil when the
// condition is healthy.
type AlertRule interface {
	ID() string
	Evaluate(stats WindowStats) *Alert
}

// AlertManager evaluates rules on a fixed interval and tracks active and
// resolved alerts. Active alerts resolve automatically when their condition
// clears.
type AlertManager struct {
	aggregator *Aggregator
	window     time.Duration
	interval   time.Duration
	rules      []AlertRule

	mu       sync.RWMutex
	active   map[string]*Alert
	resolved []Alert

	triggered     atomic.Int64
	resolvedCount atomic.Int64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewAlertManager creates a manager with the default rule set.
func NewAlertManager(aggregator *Aggregator, window, interval time.Duration) *AlertManager {
	return &AlertManager{
		aggregator: aggregator,
		window:     window,
		interval:   interval,
		rules: []AlertRule{
			&lowHitRateRule{threshold: 0.5, minRequests: 50},
			&warmFailureRule{threshold: 0.5, minWarms: 10},
			&fallbackRule{threshold: 0.9, minBuilds: 10},
			&engineFailureRule{threshold: 20},
		},
		active:   make(map[string]*Alert),
		resolved: make([]Alert, 0),
		stopChan: make(chan struct{}),
	}
}

// Run starts the evaluation loop.
func (am *AlertManager) Run() {
	am.wg.Add(1)
	defer am.wg.Done()

	ticker := time.NewTicker(am.interval)
	defer ticker.Stop()

	for {
		select {
		case <-am.stopChan:
			return
		case <-ticker.C:
			am.Evaluate()
		}
	}
}

// Evaluate runs every rule against the current window.
func (am *AlertManager) Evaluate() {
	now := time.Now()
	stats := am.aggregator.Window(now.Add(-am.window), now)

	for _, rule := range am.rules {
		if alert := rule.Evaluate(stats); alert != nil {
			am.trigger(alert)
		} else {
			am.resolve(rule.ID())
		}
	}
}

func (am *AlertManager) trigger(alert *Alert) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if existing, ok := am.active[alert.ID]; ok {
		existing.CurrentValue = alert.CurrentValue
		existing.Message = alert.Message
		return
	}

	alert.TriggeredAt = time.Now()
	am.active[alert.ID] = alert
	am.triggered.Add(1)
}

func (am *AlertManager) resolve(id string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, ok := am.active[id]
	if !ok {
		return
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(am.active, id)

	am.resolved = append(am.resolved, *alert)
	if len(am.resolved) > 100 {
		am.resolved = am.resolved[len(am.resolved)-100:]
	}
	am.resolvedCount.Add(1)
}

// GetActive returns the currently firing alerts.
func (am *AlertManager) GetActive() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0, len(am.active))
	for _, alert := range am.active {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// GetRecentResolved returns up to n most recently resolved alerts.
func (am *AlertManager) GetRecentResolved(n int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if n > len(am.resolved) {
		n = len(am.resolved)
	}
	out := make([]Alert, n)
	copy(out, am.resolved[len(am.resolved)-n:])
	return out
}

// AlertStats summarizes manager activity.
type AlertStats struct {
	TotalTriggered int64 `json:"total_triggered"`
	TotalResolved  int64 `json:"total_resolved"`
	ActiveCount    int   `json:"active_count"`
}

func (am *AlertManager) GetStats() AlertStats {
	am.mu.RLock()
	active := len(am.active)
	am.mu.RUnlock()

	return AlertStats{
		TotalTriggered: am.triggered.Load(),
		TotalResolved:  am.resolvedCount.Load(),
		ActiveCount:    active,
	}
}

// Stop terminates the evaluation loop.
func (am *AlertManager) Stop() {
	close(am.stopChan)
	am.wg.Wait()
}

// lowHitRateRule fires when the cache hit rate drops below the floor with
// meaningful traffic in the window.
type lowHitRateRule struct {
	threshold   float64
	minRequests int64
}

func (r *lowHitRateRule) ID() string { return string(AlertLowHitRate) }

func (r *lowHitRateRule) Evaluate(stats WindowStats) *Alert {
	if stats.Requests < r.minRequests || stats.HitRate >= r.threshold {
		return nil
	}
	return &Alert{
		ID:           r.ID(),
		Type:         AlertLowHitRate,
		Severity:     "warning",
		CurrentValue: stats.HitRate,
		Threshold:    r.threshold,
		Message:      fmt.Sprintf("cache hit rate %.2f below %.2f over %d requests", stats.HitRate, r.threshold, stats.Requests),
	}
}

// warmFailureRule fires when warming tasks fail more often than they succeed.
type warmFailureRule struct {
	threshold float64
	minWarms  int64
}

func (r *warmFailureRule) ID() string { return string(AlertWarmFailures) }

func (r *warmFailureRule) Evaluate(stats WindowStats) *Alert {
	total := stats.Warms + stats.WarmFailures
	if total < r.minWarms || stats.WarmFailRate <= r.threshold {
		return nil
	}
	return &Alert{
		ID:           r.ID(),
		Type:         AlertWarmFailures,
		Severity:     "warning",
		CurrentValue: stats.WarmFailRate,
		Threshold:    r.threshold,
		Message:      fmt.Sprintf("warming failure rate %.2f over %d tasks", stats.WarmFailRate, total),
	}
}

// fallbackRule fires when nearly every synthesis falls back to the template,
// which means the AI upstream is effectively down.
type fallbackRule struct {
	threshold float64
	minBuilds int64
}

func (r *fallbackRule) ID() string { return string(AlertSynthesisDegraded) }

func (r *fallbackRule) Evaluate(stats WindowStats) *Alert {
	if stats.ForecastBuilds < r.minBuilds || stats.FallbackRate <= r.threshold {
		return nil
	}
	return &Alert{
		ID:           r.ID(),
		Type:         AlertSynthesisDegraded,
		Severity:     "critical",
		CurrentValue: stats.FallbackRate,
		Threshold:    r.threshold,
		Message:      fmt.Sprintf("synthesis fallback rate %.2f over %d builds", stats.FallbackRate, stats.ForecastBuilds),
	}
}

// engineFailureRule fires on an absolute burst of engine failures.
type engineFailureRule struct {
	threshold int64
}

func (r *engineFailureRule) ID() string { return string(AlertEngineFailures) }

func (r *engineFailureRule) Evaluate(stats WindowStats) *Alert {
	if stats.EngineFailures <= r.threshold {
		return nil
	}
	return &Alert{
		ID:           r.ID(),
		Type:         AlertEngineFailures,
		Severity:     "warning",
		CurrentValue: float64(stats.EngineFailures),
		Threshold:    float64(r.threshold),
		Message:      fmt.Sprintf("%d engine failures in window", stats.EngineFailures),
	}
}
