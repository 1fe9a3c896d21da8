package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"encore.dev/rlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"encore.app/pkg/biorhythm"
	"encore.app/pkg/fingerprint"
	"encore.app/pkg/models"
	"encore.app/synthesis"
)

// Cache namespaces. Forecast artifacts embed volatile synthesis output, so
// they live at a shorter TTL than the raw engine and cycle caches they are
// assembled from.
const (
	NamespaceDailyForecast  = "daily-forecast"
	NamespaceWeeklyForecast = "weekly-forecast"
	NamespaceCycles         = "cycle-samples"
)

// CacheClient abstracts the result cache for the pipeline. Every error from
// it is swallowed as a miss; the pipeline always degrades to recompute.
type CacheClient interface {
	Get(ctx context.Context, namespace, key string) (any, bool, error)
	Set(ctx context.Context, namespace, key string, payload any, confidence float64, ttlSeconds int, metadata map[string]string) (cached bool, err error)
}

// PipelineConfig holds tuning for the forecast build.
type PipelineConfig struct {
	TrendWindowDays    int // cycle window computed per daily build
	ForecastTTLSeconds int
	CycleTTLSeconds    int
	WeeklyParallelism  int // concurrent daily builds inside a weekly build
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TrendWindowDays:    7,
		ForecastTTLSeconds: 900,   // 15 minutes
		CycleTTLSeconds:    86400, // raw cycle math is stable for a day
		WeeklyParallelism:  3,
	}
}

// buildStats reports how one forecast build went, for events and metrics.
type buildStats struct {
	EngineSuccesses int
	EngineFailures  int
	Cached          bool
	CacheHit        bool
}

// Pipeline orchestrates one forecast build: key lookup, parallel fan-out,
// synthesis, persist. Concurrent requests for the same forecast key are
// coalesced so the fan-out runs once.
type Pipeline struct {
	cache   CacheClient
	engines *EngineRegistry
	config  PipelineConfig
	flight  singleflight.Group

	synthMu sync.RWMutex
	synth   *synthesis.Engine
}

// NewPipeline wires a pipeline.
func NewPipeline(cache CacheClient, engines *EngineRegistry, synth *synthesis.Engine, config PipelineConfig) *Pipeline {
	return &Pipeline{
		cache:   cache,
		engines: engines,
		synth:   synth,
		config:  config,
	}
}

// SetSynthesis swaps the synthesis engine, typically after the AI upstream
// becomes available.
func (p *Pipeline) SetSynthesis(engine *synthesis.Engine) {
	p.synthMu.Lock()
	p.synth = engine
	p.synthMu.Unlock()
}

func (p *Pipeline) synthesizer() *synthesis.Engine {
	p.synthMu.RLock()
	defer p.synthMu.RUnlock()
	return p.synth
}

// dailyKeyInput is the fingerprint input for a daily forecast. The epoch is
// deliberately excluded: a subject ID identifies one epoch, and warming jobs
// must derive the same key without knowing it.
func dailyKeyInput(subjectID string, date time.Time) map[string]any {
	return map[string]any{
		"subject_id": subjectID,
		"date":       date.UTC().Format("2006-01-02"),
	}
}

// Daily returns the forecast for one date, from cache when possible.
func (p *Pipeline) Daily(ctx context.Context, subject models.SubjectProfile, date time.Time) (*models.DailyForecast, buildStats, error) {
	key, err := fingerprint.Fingerprint(NamespaceDailyForecast, dailyKeyInput(subject.SubjectID, date))
	if err != nil {
		return nil, buildStats{}, fmt.Errorf("fingerprint failed: %w", err)
	}

	if cached, ok := p.cacheGet(ctx, NamespaceDailyForecast, key); ok {
		if forecast, ok := decodeCached[*models.DailyForecast](cached); ok {
			hit := *forecast
			hit.FromCache = true
			return &hit, buildStats{CacheHit: true}, nil
		}
	}

	type built struct {
		forecast *models.DailyForecast
		stats    buildStats
	}

	result, err, _ := p.flight.Do(key, func() (interface{}, error) {
		forecast, stats, err := p.build(ctx, subject, date, key)
		if err != nil {
			return nil, err
		}
		return built{forecast: forecast, stats: stats}, nil
	})
	if err != nil {
		return nil, buildStats{}, err
	}

	b := result.(built)

	// Coalesced followers get their own copy so FromCache mutation is safe.
	forecast := *b.forecast
	return &forecast, b.stats, nil
}

// build runs the miss path: fan out, synthesize, persist.
func (p *Pipeline) build(ctx context.Context, subject models.SubjectProfile, date time.Time, key string) (*models.DailyForecast, buildStats, error) {
	var stats buildStats

	samples, readings, failures, err := p.fanOut(ctx, subject, date)
	if err != nil {
		return nil, stats, err
	}
	stats.EngineSuccesses = len(readings)
	stats.EngineFailures = failures

	profile, err := biorhythm.BuildEnergyProfile(samples)
	if err != nil {
		return nil, stats, fmt.Errorf("energy profile: %w", err)
	}

	result := p.synthesizer().Synthesize(ctx, readings, synthesis.Context{
		SubjectID: subject.SubjectID,
		Date:      date,
		Energy:    profile,
	})

	forecast := &models.DailyForecast{
		SubjectID:       subject.SubjectID,
		Date:            truncateDay(date),
		Energy:          profile,
		Readings:        readings,
		Synthesis:       result,
		Recommendations: BuildRecommendations(profile, result),
		GeneratedAt:     time.Now().UTC(),
	}

	stats.Cached = p.cacheSet(ctx, NamespaceDailyForecast, key, forecast,
		result.Confidence, p.config.ForecastTTLSeconds, subjectMetadata(subject))

	return forecast, stats, nil
}

// fanOut runs cycle analytics and every active engine in parallel. A single
// engine failure only drops that reading; zero readings is still a valid
// outcome (the fallback synthesis covers it).
func (p *Pipeline) fanOut(ctx context.Context, subject models.SubjectProfile, date time.Time) ([]models.CycleSample, []models.Reading, int, error) {
	active := p.engines.Active()

	var (
		mu       sync.Mutex
		samples  []models.CycleSample
		readings = make([]models.Reading, 0, len(active))
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		computed, err := p.cycleWindow(gctx, subject, date)
		if err != nil {
			return err // cycle math failing means bad input, abort the build
		}
		mu.Lock()
		samples = computed
		mu.Unlock()
		return nil
	})

	for _, engine := range active {
		engine := engine
		g.Go(func() error {
			reading, ok := p.engineReading(gctx, engine, subject, date)
			mu.Lock()
			if ok {
				readings = append(readings, *reading)
			} else {
				failures++
			}
			mu.Unlock()
			return nil // engine failures never abort the group
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	// Fan-out completion order is nondeterministic; restore plan order.
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Source < readings[j].Source
	})

	return samples, readings, failures, nil
}

// cycleWindow returns the trend window of samples, cache-first. Cycle math
// carries no confidence score, so entries cache at the unscored default.
func (p *Pipeline) cycleWindow(ctx context.Context, subject models.SubjectProfile, date time.Time) ([]models.CycleSample, error) {
	input := map[string]any{
		"subject_id": subject.SubjectID,
		"date":       date.UTC().Format("2006-01-02"),
		"window":     p.config.TrendWindowDays,
	}
	key, err := fingerprint.Fingerprint(NamespaceCycles, input)
	if err != nil {
		return nil, err
	}

	if cached, ok := p.cacheGet(ctx, NamespaceCycles, key); ok {
		if samples, ok := decodeCached[[]models.CycleSample](cached); ok {
			return samples, nil
		}
	}

	samples, err := biorhythm.ComputeCycles(subject.Epoch, date, p.config.TrendWindowDays)
	if err != nil {
		return nil, err
	}

	p.cacheSet(ctx, NamespaceCycles, key, samples, -1, p.config.CycleTTLSeconds, subjectMetadata(subject))
	return samples, nil
}

// engineReading runs one engine slot, cache-first, under its own deadline.
func (p *Pipeline) engineReading(ctx context.Context, engine ActiveEngine, subject models.SubjectProfile, date time.Time) (*models.Reading, bool) {
	input := map[string]any{
		"subject_id": subject.SubjectID,
		"date":       date.UTC().Format("2006-01-02"),
		"engine":     engine.Spec.Name,
	}
	key, err := fingerprint.Fingerprint(engine.Spec.Namespace, input)
	if err != nil {
		rlog.Warn("engine input unfingerprintable", "engine", engine.Spec.Name, "err", err)
		return nil, false
	}

	if cached, ok := p.cacheGet(ctx, engine.Spec.Namespace, key); ok {
		if reading, ok := decodeCached[*models.Reading](cached); ok {
			return reading, true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(engine.Spec.TimeoutMs)*time.Millisecond)
	defer cancel()

	reading, err := engine.Client.Compute(callCtx, subject, date)
	if err != nil {
		rlog.Warn("engine failed, dropping reading",
			"engine", engine.Spec.Name, "subject", subject.SubjectID, "err", err)
		return nil, false
	}

	p.cacheSet(ctx, engine.Spec.Namespace, key, reading,
		reading.Confidence, engine.Spec.TTLSeconds, subjectMetadata(subject))

	return reading, true
}

// Weekly builds seven consecutive daily forecasts and aggregates them.
func (p *Pipeline) Weekly(ctx context.Context, subject models.SubjectProfile, weekStart time.Time) (*models.WeeklyForecast, buildStats, error) {
	key, err := fingerprint.Fingerprint(NamespaceWeeklyForecast, dailyKeyInput(subject.SubjectID, weekStart))
	if err != nil {
		return nil, buildStats{}, fmt.Errorf("fingerprint failed: %w", err)
	}

	if cached, ok := p.cacheGet(ctx, NamespaceWeeklyForecast, key); ok {
		if weekly, ok := decodeCached[*models.WeeklyForecast](cached); ok {
			hit := *weekly
			return &hit, buildStats{CacheHit: true}, nil
		}
	}

	days := make([]models.DailyForecast, 7)
	var totals buildStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.WeeklyParallelism)

	var mu sync.Mutex
	for i := 0; i < 7; i++ {
		i := i
		g.Go(func() error {
			daily, stats, err := p.Daily(gctx, subject, weekStart.AddDate(0, 0, i))
			if err != nil {
				return err
			}
			mu.Lock()
			days[i] = *daily
			totals.EngineSuccesses += stats.EngineSuccesses
			totals.EngineFailures += stats.EngineFailures
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, totals, err
	}

	weekly := &models.WeeklyForecast{
		SubjectID:      subject.SubjectID,
		WeekStart:      truncateDay(weekStart),
		Days:           days,
		DominantEnergy: majorityEnergy(days),
		WeekTrend:      weekTrend(days),
		SharedThemes:   sharedThemes(days, 5),
		GeneratedAt:    time.Now().UTC(),
	}

	totals.Cached = p.cacheSet(ctx, NamespaceWeeklyForecast, key, weekly,
		weeklyConfidence(days), p.config.ForecastTTLSeconds, subjectMetadata(subject))

	return weekly, totals, nil
}

// majorityEnergy picks the most common daily energy level; ties break toward
// the higher band.
func majorityEnergy(days []models.DailyForecast) models.EnergyLevel {
	counts := make(map[models.EnergyLevel]int)
	for _, d := range days {
		counts[d.Energy.Level]++
	}

	order := []models.EnergyLevel{
		models.EnergyHigh, models.EnergyBalanced, models.EnergyLow, models.EnergyDepleted,
	}
	best := models.EnergyBalanced
	bestCount := -1
	for _, level := range order {
		if counts[level] > bestCount {
			best = level
			bestCount = counts[level]
		}
	}
	return best
}

// weekTrend re-runs trend analysis over the seven target-day samples, which
// captures week-scale movement rather than averaging daily windows.
func weekTrend(days []models.DailyForecast) models.TrendDirection {
	samples := make([]models.CycleSample, 0, len(days))
	for _, d := range days {
		samples = append(samples, d.Energy.Sample)
	}
	trend, err := biorhythm.AnalyzeTrend(samples)
	if err != nil {
		return models.TrendStable
	}
	return trend.Direction
}

// sharedThemes returns the most frequent themes across the week, capped.
// Frequency descending, theme name as tiebreaker.
func sharedThemes(days []models.DailyForecast, cap int) []string {
	counts := make(map[string]int)
	for _, d := range days {
		for _, theme := range d.Synthesis.KeyThemes {
			counts[theme]++
		}
	}

	themes := make([]string, 0, len(counts))
	for theme := range counts {
		themes = append(themes, theme)
	}
	sort.Slice(themes, func(i, j int) bool {
		if counts[themes[i]] != counts[themes[j]] {
			return counts[themes[i]] > counts[themes[j]]
		}
		return themes[i] < themes[j]
	})

	if len(themes) > cap {
		themes = themes[:cap]
	}
	return themes
}

// weeklyConfidence is the mean of the daily synthesis confidences.
func weeklyConfidence(days []models.DailyForecast) float64 {
	if len(days) == 0 {
		return -1
	}
	sum := 0.0
	for _, d := range days {
		sum += d.Synthesis.Confidence
	}
	return sum / float64(len(days))
}

func subjectMetadata(subject models.SubjectProfile) map[string]string {
	return map[string]string{"subject": subject.SubjectID}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// decodeCached recovers a concrete artifact from a cache payload. Local hits
// return the value that was stored; hits served out of the remote tier come
// back rehydrated as generic JSON maps, so those are re-marshalled into the
// target type. Payloads matching neither shape count as a miss.
func decodeCached[T any](payload any) (T, bool) {
	if typed, ok := payload.(T); ok {
		return typed, true
	}

	var zero T
	data, err := json.Marshal(payload)
	if err != nil {
		return zero, false
	}
	target := new(T)
	if err := json.Unmarshal(data, target); err != nil {
		return zero, false
	}
	return *target, true
}

// cacheGet consults the cache, swallowing unavailability as a miss.
func (p *Pipeline) cacheGet(ctx context.Context, namespace, key string) (any, bool) {
	payload, hit, err := p.cache.Get(ctx, namespace, key)
	if err != nil {
		rlog.Warn("cache lookup failed, recomputing", "namespace", namespace, "err", err)
		return nil, false
	}
	return payload, hit
}

// cacheSet persists best-effort. Admission refusals and cache errors are
// logged decisions, never request failures.
func (p *Pipeline) cacheSet(ctx context.Context, namespace, key string, payload any, confidence float64, ttlSeconds int, metadata map[string]string) bool {
	cached, err := p.cache.Set(ctx, namespace, key, payload, confidence, ttlSeconds, metadata)
	if err != nil {
		rlog.Warn("cache write failed", "namespace", namespace, "err", err)
		return false
	}
	return cached
}
