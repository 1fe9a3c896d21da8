package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"encore.app/pkg/models"
	"encore.app/synthesis"
)

// MockCache is an in-memory CacheClient with injectable failures.
type MockCache struct {
	mu        sync.Mutex
	data      map[string]any
	getErr    error
	setErr    error
	rehydrate bool
	gets      int
	sets      int
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string]any)}
}

func (m *MockCache) Get(ctx context.Context, namespace, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	payload, ok := m.data[namespace+"/"+key]
	if ok && m.rehydrate {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, false, err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, false, err
		}
		return generic, true, nil
	}
	return payload, ok, nil
}

// RehydratePayloads makes Get return payloads as generic JSON values, the
// shape hits take after crossing the remote tier.
func (m *MockCache) RehydratePayloads() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rehydrate = true
}

func (m *MockCache) Set(ctx context.Context, namespace, key string, payload any, confidence float64, ttlSeconds int, metadata map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return false, m.setErr
	}
	m.data[namespace+"/"+key] = payload
	return true, nil
}

func (m *MockCache) SetGetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *MockCache) SetSetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// DropNamespace removes every entry under one namespace.
func (m *MockCache) DropNamespace(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ck := range m.data {
		if strings.HasPrefix(ck, namespace+"/") {
			delete(m.data, ck)
		}
	}
}

func (m *MockCache) HasNamespace(namespace string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ck := range m.data {
		if strings.HasPrefix(ck, namespace+"/") {
			return true
		}
	}
	return false
}

// MockEngine is a scriptable EngineClient.
type MockEngine struct {
	mu    sync.Mutex
	name  string
	err   error
	delay time.Duration
	calls int
}

func (e *MockEngine) Name() string { return e.name }

func (e *MockEngine) Compute(ctx context.Context, subject models.SubjectProfile, date time.Time) (*models.Reading, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return &models.Reading{
		Source:     e.name,
		Summary:    e.name + " reading for " + subject.SubjectID,
		Themes:     []string{"energy"},
		Confidence: 0.9,
	}, nil
}

func (e *MockEngine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testRegistry(timeoutMs int, engines ...*MockEngine) *EngineRegistry {
	specs := make([]EngineSpec, 0, len(engines))
	for _, e := range engines {
		specs = append(specs, EngineSpec{
			Name:       e.name,
			Namespace:  "engine-" + e.name,
			TimeoutMs:  timeoutMs,
			TTLSeconds: 3600,
		})
	}
	registry := NewEngineRegistry(&EnginesConfig{Engines: specs})
	for _, e := range engines {
		registry.Register(e)
	}
	return registry
}

func newTestPipeline(cache CacheClient, engines ...*MockEngine) *Pipeline {
	return NewPipeline(cache, testRegistry(1000, engines...),
		synthesis.NewEngine(nil, synthesis.DefaultConfig()), DefaultPipelineConfig())
}

func testSubject() models.SubjectProfile {
	return models.SubjectProfile{
		SubjectID: "subject-1",
		Epoch:     time.Date(1990, time.March, 15, 0, 0, 0, 0, time.UTC),
		Name:      "Test Subject",
	}
}

var testDate = time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

func TestPipeline_DailyBuildsForecast(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}

	if forecast.SubjectID != "subject-1" {
		t.Errorf("subject = %q", forecast.SubjectID)
	}
	if !forecast.Date.Equal(testDate) {
		t.Errorf("date = %v, want %v", forecast.Date, testDate)
	}
	if forecast.FromCache {
		t.Error("fresh build marked FromCache")
	}
	if len(forecast.Readings) != 1 || forecast.Readings[0].Source != "tarot" {
		t.Errorf("readings = %+v, want one tarot reading", forecast.Readings)
	}
	if forecast.Synthesis.Source != models.SourceFallback {
		t.Errorf("synthesis source = %q, want fallback without an AI client", forecast.Synthesis.Source)
	}
	if forecast.Synthesis.Narrative == "" {
		t.Error("empty narrative")
	}
	if len(forecast.Recommendations) == 0 || len(forecast.Recommendations) > MaxRecommendations {
		t.Errorf("recommendations = %d, want 1..%d", len(forecast.Recommendations), MaxRecommendations)
	}
	if stats.CacheHit {
		t.Error("fresh build reported as cache hit")
	}
	if stats.EngineSuccesses != 1 || stats.EngineFailures != 0 {
		t.Errorf("engine stats = %+v", stats)
	}
	if !stats.Cached {
		t.Error("forecast not persisted")
	}

	// All three cache layers got populated.
	for _, namespace := range []string{NamespaceDailyForecast, NamespaceCycles, "engine-tarot"} {
		if !cache.HasNamespace(namespace) {
			t.Errorf("namespace %s not populated", namespace)
		}
	}
}

func TestPipeline_DailyCacheHit(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	if _, _, err := pipeline.Daily(context.Background(), testSubject(), testDate); err != nil {
		t.Fatalf("first Daily failed: %v", err)
	}

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("second Daily failed: %v", err)
	}
	if !stats.CacheHit {
		t.Error("second call missed the cache")
	}
	if !forecast.FromCache {
		t.Error("cached forecast not marked FromCache")
	}
	if engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1", engine.CallCount())
	}
}

func TestPipeline_RehydratedDailyCacheHit(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	first, _, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("first Daily failed: %v", err)
	}

	// Hits now come back as generic JSON, as they do from the remote tier.
	cache.RehydratePayloads()

	second, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("second Daily failed: %v", err)
	}
	if !stats.CacheHit {
		t.Error("rehydrated payload treated as a miss")
	}
	if !second.FromCache {
		t.Error("rehydrated forecast not marked FromCache")
	}
	if second.SubjectID != first.SubjectID || second.Energy.Level != first.Energy.Level {
		t.Errorf("rehydrated forecast diverged: %+v vs %+v", second, first)
	}
	if engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1", engine.CallCount())
	}

	// With only the forecast artifact gone, the rebuild still decodes the
	// rehydrated cycle and engine payloads instead of recomputing them.
	cache.DropNamespace(NamespaceDailyForecast)

	rebuilt, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if stats.CacheHit {
		t.Error("forecast artifact was dropped, expected a rebuild")
	}
	if engine.CallCount() != 1 {
		t.Errorf("engine recomputed despite a cached reading: %d calls", engine.CallCount())
	}
	if len(rebuilt.Readings) != 1 || rebuilt.Readings[0].Source != "tarot" {
		t.Errorf("readings = %+v, want one tarot reading", rebuilt.Readings)
	}
}

func TestPipeline_RehydratedWeeklyCacheHit(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	first, _, err := pipeline.Weekly(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("first Weekly failed: %v", err)
	}

	cache.RehydratePayloads()

	second, stats, err := pipeline.Weekly(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("second Weekly failed: %v", err)
	}
	if !stats.CacheHit {
		t.Error("rehydrated weekly payload treated as a miss")
	}
	if len(second.Days) != 7 || second.DominantEnergy != first.DominantEnergy {
		t.Errorf("rehydrated weekly diverged: %+v vs %+v", second, first)
	}
}

func TestPipeline_PartialEngineFailure(t *testing.T) {
	cache := NewMockCache()
	good := &MockEngine{name: "tarot"}
	bad := &MockEngine{name: "runes", err: errors.New("upstream down")}
	worse := &MockEngine{name: "iching", err: errors.New("also down")}
	pipeline := newTestPipeline(cache, good, bad, worse)

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("Daily failed despite surviving engine: %v", err)
	}

	if len(forecast.Readings) != 1 {
		t.Errorf("readings = %d, want 1", len(forecast.Readings))
	}
	if stats.EngineSuccesses != 1 || stats.EngineFailures != 2 {
		t.Errorf("stats = %+v, want 1 success / 2 failures", stats)
	}
}

func TestPipeline_AllEnginesFailStillForecasts(t *testing.T) {
	cache := NewMockCache()
	bad := &MockEngine{name: "tarot", err: errors.New("down")}
	pipeline := newTestPipeline(cache, bad)

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("Daily failed with zero readings: %v", err)
	}

	if len(forecast.Readings) != 0 {
		t.Errorf("readings = %d, want 0", len(forecast.Readings))
	}
	if stats.EngineFailures != 1 {
		t.Errorf("failures = %d, want 1", stats.EngineFailures)
	}
	// Cycle math plus the fallback narrative still yield a full forecast.
	if forecast.Synthesis.Narrative == "" {
		t.Error("empty narrative")
	}
	if forecast.Energy.Level == "" {
		t.Error("missing energy level")
	}
}

func TestPipeline_EngineTimeout(t *testing.T) {
	cache := NewMockCache()
	slow := &MockEngine{name: "tarot", delay: 500 * time.Millisecond}
	registry := testRegistry(20, slow) // 20ms deadline
	pipeline := NewPipeline(cache, registry,
		synthesis.NewEngine(nil, synthesis.DefaultConfig()), DefaultPipelineConfig())

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if stats.EngineFailures != 1 {
		t.Errorf("failures = %d, want 1 (timeout)", stats.EngineFailures)
	}
	if len(forecast.Readings) != 0 {
		t.Errorf("readings = %d, want 0", len(forecast.Readings))
	}
}

func TestPipeline_CacheErrorDegradesToRecompute(t *testing.T) {
	cache := NewMockCache()
	cache.SetGetFailure(errors.New("cache unavailable"))
	cache.SetSetFailure(errors.New("cache unavailable"))
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("Daily failed when cache was down: %v", err)
	}
	if forecast.Synthesis.Narrative == "" {
		t.Error("empty narrative")
	}
	if stats.Cached {
		t.Error("reported cached despite write failures")
	}
}

func TestPipeline_EngineCacheReused(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	if _, _, err := pipeline.Daily(context.Background(), testSubject(), testDate); err != nil {
		t.Fatalf("first Daily failed: %v", err)
	}

	// Invalidate the assembled forecast but keep the sub-result caches.
	cache.DropNamespace(NamespaceDailyForecast)

	forecast, stats, err := pipeline.Daily(context.Background(), testSubject(), testDate)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if stats.CacheHit {
		t.Error("rebuild should miss the forecast namespace")
	}
	if engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1 (reading served from engine cache)", engine.CallCount())
	}
	if len(forecast.Readings) != 1 {
		t.Errorf("readings = %d, want 1", len(forecast.Readings))
	}
}

func TestPipeline_ConcurrentDailyCoalesced(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot", delay: 50 * time.Millisecond}
	pipeline := newTestPipeline(cache, engine)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := pipeline.Daily(context.Background(), testSubject(), testDate); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Daily failed: %v", err)
	}

	if engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1 (coalesced)", engine.CallCount())
	}
}

func TestPipeline_Weekly(t *testing.T) {
	cache := NewMockCache()
	engine := &MockEngine{name: "tarot"}
	pipeline := newTestPipeline(cache, engine)

	weekStart := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	weekly, stats, err := pipeline.Weekly(context.Background(), testSubject(), weekStart)
	if err != nil {
		t.Fatalf("Weekly failed: %v", err)
	}

	if len(weekly.Days) != 7 {
		t.Fatalf("days = %d, want 7", len(weekly.Days))
	}
	for i, day := range weekly.Days {
		want := weekStart.AddDate(0, 0, i)
		if !day.Date.Equal(want) {
			t.Errorf("day %d date = %v, want %v", i, day.Date, want)
		}
	}

	validLevels := map[models.EnergyLevel]bool{
		models.EnergyHigh: true, models.EnergyBalanced: true,
		models.EnergyLow: true, models.EnergyDepleted: true,
	}
	if !validLevels[weekly.DominantEnergy] {
		t.Errorf("dominant energy = %q", weekly.DominantEnergy)
	}
	if weekly.WeekTrend == "" {
		t.Error("missing week trend")
	}
	if len(weekly.SharedThemes) == 0 || len(weekly.SharedThemes) > 5 {
		t.Errorf("shared themes = %v, want 1..5", weekly.SharedThemes)
	}
	if stats.EngineSuccesses != 7 {
		t.Errorf("engine successes = %d, want 7", stats.EngineSuccesses)
	}

	// Second call serves the aggregate from cache without new engine work.
	before := engine.CallCount()
	_, stats, err = pipeline.Weekly(context.Background(), testSubject(), weekStart)
	if err != nil {
		t.Fatalf("second Weekly failed: %v", err)
	}
	if !stats.CacheHit {
		t.Error("second Weekly missed the cache")
	}
	if engine.CallCount() != before {
		t.Errorf("engine calls grew from %d to %d on cache hit", before, engine.CallCount())
	}
}

func TestMajorityEnergy(t *testing.T) {
	days := func(levels ...models.EnergyLevel) []models.DailyForecast {
		out := make([]models.DailyForecast, len(levels))
		for i, level := range levels {
			out[i].Energy.Level = level
		}
		return out
	}

	cases := []struct {
		name   string
		levels []models.EnergyLevel
		want   models.EnergyLevel
	}{
		{"clear majority", []models.EnergyLevel{models.EnergyLow, models.EnergyLow, models.EnergyHigh}, models.EnergyLow},
		{"tie breaks high", []models.EnergyLevel{models.EnergyHigh, models.EnergyLow}, models.EnergyHigh},
		{"all same", []models.EnergyLevel{models.EnergyDepleted, models.EnergyDepleted}, models.EnergyDepleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := majorityEnergy(days(tc.levels...)); got != tc.want {
				t.Errorf("majorityEnergy = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSharedThemes(t *testing.T) {
	days := []models.DailyForecast{
		{Synthesis: models.SynthesisResult{KeyThemes: []string{"energy", "rest"}}},
		{Synthesis: models.SynthesisResult{KeyThemes: []string{"energy", "creativity"}}},
		{Synthesis: models.SynthesisResult{KeyThemes: []string{"energy", "rest"}}},
	}

	themes := sharedThemes(days, 2)
	if len(themes) != 2 {
		t.Fatalf("themes = %v, want 2", themes)
	}
	if themes[0] != "energy" {
		t.Errorf("top theme = %q, want energy", themes[0])
	}
	if themes[1] != "rest" {
		t.Errorf("second theme = %q, want rest", themes[1])
	}
}
