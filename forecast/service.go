// Package forecast generates daily and weekly forecasts for a subject by
// fanning out cycle analytics and domain engines, synthesizing a narrative,
// and caching the assembled artifact in the result cache.
//
// Design Choices:
//
// 1. Cache-first at every layer: the full forecast, the raw cycle window,
// and each engine reading are cached under separate namespaces, so a
// forecast rebuild reuses whatever sub-results survived.
//
// 2. Partial results over all-or-nothing: a failing engine only loses its
// own reading. Zero readings still produce a forecast from cycle math and
// the fallback narrative.
//
// 3. Per-subject token bucket rate limiting keeps one client from
// monopolizing the fan-out workers.
//
// Performance Characteristics:
//   - Cache hit: single cache lookup, no computation
//   - Cache miss: one cycle computation plus N engine calls, all parallel
//   - Weekly: up to 7 daily builds, bounded parallelism
package forecast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encore.dev/pubsub"
	"encore.dev/rlog"
	"github.com/go-playground/validator/v10"

	"encore.app/pkg/middleware"
	"encore.app/pkg/models"
	events "encore.app/pkg/pubsub"
	"encore.app/resultcache"
	"encore.app/synthesis"
)

// ForecastGeneratedTopic announces completed forecast builds. Monitoring
// subscribes to track synthesis fallback rates and engine health.
var ForecastGeneratedTopic = pubsub.NewTopic[*events.ForecastGeneratedEvent](events.TopicForecastGenerated, pubsub.TopicConfig{
	DeliveryGuarantee: pubsub.AtLeastOnce,
})

//encore:service
type Service struct {
	pipeline *Pipeline
	engines  *EngineRegistry
	limiter  *middleware.TokenBucket
	subjects *subjectRegistry
	validate *validator.Validate

	synthMu sync.RWMutex
	synth   *synthesis.Engine

	metrics forecastMetrics
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	var initErr error
	once.Do(func() {
		registry := NewEngineRegistry(DefaultEnginesConfig())
		registry.Register(NumerologyEngine{})

		synth := synthesis.NewEngine(nil, synthesis.DefaultConfig())

		s := &Service{
			engines:  registry,
			synth:    synth,
			limiter:  middleware.NewTokenBucket(5, 10),
			subjects: newSubjectRegistry(),
			validate: validator.New(),
		}
		s.pipeline = NewPipeline(resultCacheClient{}, registry, synth, DefaultPipelineConfig())

		resultcache.RegisterComputer(&forecastComputer{service: s})

		svc = s
	})
	if initErr != nil {
		return nil, initErr
	}
	return svc, nil
}

// SetAIClient installs the upstream AI summarizer. Until called, every
// synthesis uses the deterministic fallback.
func (s *Service) SetAIClient(client synthesis.AIClient) {
	engine := synthesis.NewEngine(client, synthesis.DefaultConfig())
	s.synthMu.Lock()
	s.synth = engine
	s.synthMu.Unlock()
	s.pipeline.SetSynthesis(engine)
}

// forecastMetrics tracks request outcomes with atomic counters.
type forecastMetrics struct {
	DailyRequests  atomic.Uint64
	WeeklyRequests atomic.Uint64
	CacheHits      atomic.Uint64
	Builds         atomic.Uint64
	BuildFailures  atomic.Uint64
	RateLimited    atomic.Uint64
	TotalBuildMs   atomic.Int64
}

// resultCacheClient adapts the resultcache service API to the pipeline's
// CacheClient interface.
type resultCacheClient struct{}

func (resultCacheClient) Get(ctx context.Context, namespace, key string) (any, bool, error) {
	resp, err := resultcache.Get(ctx, namespace, key)
	if err != nil {
		return nil, false, err
	}
	if !resp.Hit {
		return nil, false, nil
	}
	return resp.Payload, true, nil
}

func (resultCacheClient) Set(ctx context.Context, namespace, key string, payload any, confidence float64, ttlSeconds int, metadata map[string]string) (bool, error) {
	resp, err := resultcache.Set(ctx, namespace, key, &resultcache.SetRequest{
		Payload:    payload,
		Confidence: confidence,
		TTLSeconds: ttlSeconds,
		Metadata:   metadata,
	})
	if err != nil {
		return false, err
	}
	if !resp.Cached {
		rlog.Debug("cache refused forecast payload", "namespace", namespace, "reason", resp.Reason)
	}
	return resp.Cached, nil
}

// DailyRequest asks for one subject's forecast on one date.
type DailyRequest struct {
	Subject models.SubjectProfile `json:"subject"`

	// Date in 2006-01-02 form; empty means today (UTC).
	Date string `json:"date"`
}

// WeeklyRequest asks for a seven-day forecast starting at WeekStart.
type WeeklyRequest struct {
	Subject models.SubjectProfile `json:"subject"`

	// WeekStart in 2006-01-02 form; empty means today (UTC).
	WeekStart string `json:"week_start"`
}

// Daily generates or retrieves the daily forecast for a subject.
//
//encore:api public method=POST path=/forecast/daily
func Daily(ctx context.Context, req *DailyRequest) (*models.DailyForecast, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	return svc.Daily(ctx, req)
}

func (s *Service) Daily(ctx context.Context, req *DailyRequest) (*models.DailyForecast, error) {
	date, err := s.admit(req.Subject, req.Date, 1)
	if err != nil {
		return nil, err
	}
	s.metrics.DailyRequests.Add(1)

	start := time.Now()
	forecast, stats, err := s.pipeline.Daily(ctx, req.Subject, date)
	if err != nil {
		s.metrics.BuildFailures.Add(1)
		return nil, fmt.Errorf("daily forecast failed: %w", err)
	}

	s.recordOutcome(ctx, "daily", req.Subject.SubjectID, date, forecast.Synthesis.Source, stats, time.Since(start))
	return forecast, nil
}

// Weekly generates or retrieves a seven-day forecast for a subject.
//
//encore:api public method=POST path=/forecast/weekly
func Weekly(ctx context.Context, req *WeeklyRequest) (*models.WeeklyForecast, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	return svc.Weekly(ctx, req)
}

func (s *Service) Weekly(ctx context.Context, req *WeeklyRequest) (*models.WeeklyForecast, error) {
	// A weekly build costs up to seven daily builds, so it draws seven
	// tokens from the subject's bucket.
	weekStart, err := s.admit(req.Subject, req.WeekStart, 7)
	if err != nil {
		return nil, err
	}
	s.metrics.WeeklyRequests.Add(1)

	start := time.Now()
	weekly, stats, err := s.pipeline.Weekly(ctx, req.Subject, weekStart)
	if err != nil {
		s.metrics.BuildFailures.Add(1)
		return nil, fmt.Errorf("weekly forecast failed: %w", err)
	}

	source := models.SourceFallback
	if len(weekly.Days) > 0 {
		source = weekly.Days[0].Synthesis.Source
	}
	s.recordOutcome(ctx, "weekly", req.Subject.SubjectID, weekStart, source, stats, time.Since(start))
	return weekly, nil
}

// DailyByID serves the daily forecast for a previously seen subject. The
// full profile must have been registered by an earlier POST request.
//
//encore:api public method=GET path=/forecast/daily/:subjectID/:date
func DailyByID(ctx context.Context, subjectID, date string) (*models.DailyForecast, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	subject, ok := svc.subjects.Lookup(subjectID)
	if !ok {
		return nil, fmt.Errorf("unknown subject %q, submit the full profile first", subjectID)
	}
	return svc.Daily(ctx, &DailyRequest{Subject: subject, Date: date})
}

// WeeklyByID serves the weekly forecast for a previously seen subject.
//
//encore:api public method=GET path=/forecast/weekly/:subjectID/:weekStart
func WeeklyByID(ctx context.Context, subjectID, weekStart string) (*models.WeeklyForecast, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	subject, ok := svc.subjects.Lookup(subjectID)
	if !ok {
		return nil, fmt.Errorf("unknown subject %q, submit the full profile first", subjectID)
	}
	return svc.Weekly(ctx, &WeeklyRequest{Subject: subject, WeekStart: weekStart})
}

// admit validates the subject, enforces the rate limit, records the profile
// for warming, and parses the date.
func (s *Service) admit(subject models.SubjectProfile, rawDate string, cost int) (time.Time, error) {
	if err := s.validate.Struct(subject); err != nil {
		return time.Time{}, fmt.Errorf("invalid subject profile: %w", err)
	}
	if !subject.Epoch.Before(time.Now()) {
		return time.Time{}, fmt.Errorf("epoch must be in the past")
	}

	if !s.limiter.AllowN(subject.SubjectID, cost) {
		s.metrics.RateLimited.Add(1)
		return time.Time{}, fmt.Errorf("rate limit exceeded for subject %s", subject.SubjectID)
	}

	s.subjects.Record(subject)

	if rawDate == "" {
		return truncateDay(time.Now()), nil
	}
	date, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected 2006-01-02 form", rawDate)
	}
	return date.UTC(), nil
}

// recordOutcome updates metrics and publishes the completion event.
func (s *Service) recordOutcome(ctx context.Context, kind, subjectID string, date time.Time, source models.SynthesisSource, stats buildStats, elapsed time.Duration) {
	if stats.CacheHit {
		s.metrics.CacheHits.Add(1)
	} else {
		s.metrics.Builds.Add(1)
		s.metrics.TotalBuildMs.Add(elapsed.Milliseconds())
	}

	event := &events.ForecastGeneratedEvent{
		Version:         events.EventVersion1,
		SubjectID:       subjectID,
		Kind:            kind,
		Date:            date,
		SynthesisSource: string(source),
		EngineSuccesses: stats.EngineSuccesses,
		EngineFailures:  stats.EngineFailures,
		Cached:          stats.Cached || stats.CacheHit,
		DurationMs:      elapsed.Milliseconds(),
		TriggeredAt:     time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		rlog.Error("invalid forecast event, not publishing", "err", err)
		return
	}
	if _, err := ForecastGeneratedTopic.Publish(ctx, event); err != nil {
		rlog.Error("failed to publish forecast event", "subject", subjectID, "err", err)
	}
}

// ForecastMetricsSnapshot is a point-in-time copy of the service counters.
type ForecastMetricsSnapshot struct {
	DailyRequests  uint64  `json:"daily_requests"`
	WeeklyRequests uint64  `json:"weekly_requests"`
	CacheHits      uint64  `json:"cache_hits"`
	Builds         uint64  `json:"builds"`
	BuildFailures  uint64  `json:"build_failures"`
	RateLimited    uint64  `json:"rate_limited"`
	AvgBuildMs     float64 `json:"avg_build_ms"`
}

// StatusResponse reports pipeline health.
type StatusResponse struct {
	Engines         []string                `json:"engines"`
	BreakerState    string                  `json:"breaker_state"`
	TrackedSubjects int                     `json:"tracked_subjects"`
	Metrics         ForecastMetricsSnapshot `json:"metrics"`
	RateLimiter     middleware.Stats        `json:"rate_limiter"`
}

// Status reports engine registration, breaker state, and request counters.
//
//encore:api public method=GET path=/forecast/status
func Status(ctx context.Context) (*StatusResponse, error) {
	if _, err := initService(); err != nil {
		return nil, err
	}
	return svc.Status(ctx)
}

func (s *Service) Status(ctx context.Context) (*StatusResponse, error) {
	builds := s.metrics.Builds.Load()
	avg := 0.0
	if builds > 0 {
		avg = float64(s.metrics.TotalBuildMs.Load()) / float64(builds)
	}

	s.synthMu.RLock()
	breaker := s.synth.BreakerState()
	s.synthMu.RUnlock()

	return &StatusResponse{
		Engines:         s.engines.describeEngines(),
		BreakerState:    breaker,
		TrackedSubjects: s.subjects.Len(),
		Metrics: ForecastMetricsSnapshot{
			DailyRequests:  s.metrics.DailyRequests.Load(),
			WeeklyRequests: s.metrics.WeeklyRequests.Load(),
			CacheHits:      s.metrics.CacheHits.Load(),
			Builds:         builds,
			BuildFailures:  s.metrics.BuildFailures.Load(),
			RateLimited:    s.metrics.RateLimited.Load(),
			AvgBuildMs:     avg,
		},
		RateLimiter: s.limiter.GetStats(),
	}, nil
}

// subjectRegistry remembers the profiles of recently seen subjects so the
// warming path can rebuild forecasts from a subject ID alone.
type subjectRegistry struct {
	mu       sync.RWMutex
	profiles map[string]subjectRecord
}

type subjectRecord struct {
	profile  models.SubjectProfile
	lastSeen time.Time
}

func newSubjectRegistry() *subjectRegistry {
	return &subjectRegistry{profiles: make(map[string]subjectRecord)}
}

func (r *subjectRegistry) Record(profile models.SubjectProfile) {
	r.mu.Lock()
	r.profiles[profile.SubjectID] = subjectRecord{profile: profile, lastSeen: time.Now()}
	r.mu.Unlock()
}

func (r *subjectRegistry) Lookup(subjectID string) (models.SubjectProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.profiles[subjectID]
	return rec.profile, ok
}

// ActiveSince returns profiles seen after the cutoff.
func (r *subjectRegistry) ActiveSince(cutoff time.Time) []models.SubjectProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]models.SubjectProfile, 0, len(r.profiles))
	for _, rec := range r.profiles {
		if rec.lastSeen.After(cutoff) {
			active = append(active, rec.profile)
		}
	}
	return active
}

func (r *subjectRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Evict drops subjects not seen since the cutoff, returning the count.
func (r *subjectRegistry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.profiles {
		if rec.lastSeen.Before(cutoff) {
			delete(r.profiles, id)
			removed++
		}
	}
	return removed
}
