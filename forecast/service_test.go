package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"encore.app/pkg/middleware"
	"encore.app/pkg/models"
	"encore.app/synthesis"
)

func setupForecastService(refillRate float64, bucketSize int64, engines ...*MockEngine) (*Service, *MockCache) {
	cache := NewMockCache()
	registry := testRegistry(1000, engines...)
	synth := synthesis.NewEngine(nil, synthesis.DefaultConfig())

	s := &Service{
		engines:  registry,
		synth:    synth,
		limiter:  middleware.NewTokenBucket(refillRate, bucketSize),
		subjects: newSubjectRegistry(),
		validate: validator.New(),
	}
	s.pipeline = NewPipeline(cache, registry, synth, DefaultPipelineConfig())
	return s, cache
}

func TestService_DailyValidation(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *DailyRequest
	}{
		{"missing subject id", &DailyRequest{
			Subject: models.SubjectProfile{Epoch: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)},
			Date:    "2024-06-15",
		}},
		{"missing epoch", &DailyRequest{
			Subject: models.SubjectProfile{SubjectID: "subject-1"},
			Date:    "2024-06-15",
		}},
		{"future epoch", &DailyRequest{
			Subject: models.SubjectProfile{
				SubjectID: "subject-1",
				Epoch:     time.Now().AddDate(1, 0, 0),
			},
			Date: "2024-06-15",
		}},
		{"bad date format", &DailyRequest{
			Subject: models.SubjectProfile{
				SubjectID: "subject-1",
				Epoch:     time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			Date: "June 15th",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Daily(ctx, tc.req); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestService_DailyMetrics(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})
	ctx := context.Background()

	req := &DailyRequest{Subject: testSubject(), Date: "2024-06-15"}

	forecast, err := s.Daily(ctx, req)
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if forecast.FromCache {
		t.Error("first call marked FromCache")
	}

	cached, err := s.Daily(ctx, req)
	if err != nil {
		t.Fatalf("second Daily failed: %v", err)
	}
	if !cached.FromCache {
		t.Error("second call not served from cache")
	}

	if got := s.metrics.DailyRequests.Load(); got != 2 {
		t.Errorf("daily requests = %d, want 2", got)
	}
	if got := s.metrics.Builds.Load(); got != 1 {
		t.Errorf("builds = %d, want 1", got)
	}
	if got := s.metrics.CacheHits.Load(); got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestService_DailyDefaultsToToday(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})

	forecast, err := s.Daily(context.Background(), &DailyRequest{Subject: testSubject()})
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if want := truncateDay(time.Now()); !forecast.Date.Equal(want) {
		t.Errorf("date = %v, want today %v", forecast.Date, want)
	}
}

func TestService_RateLimit(t *testing.T) {
	// Tiny refill so the bucket cannot recover within the test.
	s, _ := setupForecastService(0.001, 2, &MockEngine{name: "tarot"})
	ctx := context.Background()

	subject := testSubject()
	for i := 0; i < 2; i++ {
		req := &DailyRequest{Subject: subject, Date: time.Date(2024, 6, 15+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")}
		if _, err := s.Daily(ctx, req); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	_, err := s.Daily(ctx, &DailyRequest{Subject: subject, Date: "2024-06-20"})
	if err == nil {
		t.Fatal("third request should be rate limited")
	}
	if got := s.metrics.RateLimited.Load(); got != 1 {
		t.Errorf("rate limited = %d, want 1", got)
	}
}

func TestService_Weekly(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})

	weekly, err := s.Weekly(context.Background(), &WeeklyRequest{
		Subject:   testSubject(),
		WeekStart: "2024-06-10",
	})
	if err != nil {
		t.Fatalf("Weekly failed: %v", err)
	}
	if len(weekly.Days) != 7 {
		t.Errorf("days = %d, want 7", len(weekly.Days))
	}
	if got := s.metrics.WeeklyRequests.Load(); got != 1 {
		t.Errorf("weekly requests = %d, want 1", got)
	}
}

func TestService_Status(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})

	if _, err := s.Daily(context.Background(), &DailyRequest{Subject: testSubject(), Date: "2024-06-15"}); err != nil {
		t.Fatalf("Daily failed: %v", err)
	}

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if len(status.Engines) != 1 || status.Engines[0] != "tarot" {
		t.Errorf("engines = %v, want [tarot]", status.Engines)
	}
	if status.BreakerState == "" {
		t.Error("empty breaker state")
	}
	if status.TrackedSubjects != 1 {
		t.Errorf("tracked subjects = %d, want 1", status.TrackedSubjects)
	}
	if status.Metrics.DailyRequests != 1 {
		t.Errorf("daily requests = %d, want 1", status.Metrics.DailyRequests)
	}
}

func TestSubjectRegistry(t *testing.T) {
	registry := newSubjectRegistry()

	if _, ok := registry.Lookup("subject-1"); ok {
		t.Error("lookup on empty registry succeeded")
	}

	registry.Record(testSubject())
	profile, ok := registry.Lookup("subject-1")
	if !ok {
		t.Fatal("recorded subject not found")
	}
	if profile.SubjectID != "subject-1" {
		t.Errorf("subject = %q", profile.SubjectID)
	}

	if got := len(registry.ActiveSince(time.Now().Add(-time.Minute))); got != 1 {
		t.Errorf("active subjects = %d, want 1", got)
	}
	if got := len(registry.ActiveSince(time.Now().Add(time.Minute))); got != 0 {
		t.Errorf("active subjects with future cutoff = %d, want 0", got)
	}

	if removed := registry.Evict(time.Now().Add(-time.Minute)); removed != 0 {
		t.Errorf("evicted %d fresh subjects", removed)
	}
	if removed := registry.Evict(time.Now().Add(time.Minute)); removed != 1 {
		t.Errorf("evicted %d, want 1", removed)
	}
	if registry.Len() != 0 {
		t.Errorf("registry size = %d after eviction", registry.Len())
	}
}

func TestForecastComputer(t *testing.T) {
	s, _ := setupForecastService(100, 100, &MockEngine{name: "tarot"})
	computer := &forecastComputer{service: s}
	ctx := context.Background()

	input := map[string]any{"subject_id": "subject-1", "date": "2024-06-16"}

	// Unknown subject: no profile has been recorded yet.
	if _, err := computer.Compute(ctx, NamespaceDailyForecast, input); err == nil {
		t.Error("expected error for unknown subject")
	}

	s.subjects.Record(testSubject())

	result, err := computer.Compute(ctx, NamespaceDailyForecast, input)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	forecast, ok := result.Payload.(*models.DailyForecast)
	if !ok {
		t.Fatalf("payload type = %T, want *models.DailyForecast", result.Payload)
	}
	if forecast.SubjectID != "subject-1" {
		t.Errorf("subject = %q", forecast.SubjectID)
	}
	if result.Confidence != forecast.Synthesis.Confidence {
		t.Errorf("confidence = %v, want %v", result.Confidence, forecast.Synthesis.Confidence)
	}

	if _, err := computer.Compute(ctx, "engine-tarot", input); err == nil {
		t.Error("expected error for non-warmable namespace")
	}
	if _, err := computer.Compute(ctx, NamespaceDailyForecast, map[string]any{"subject_id": "subject-1"}); err == nil {
		t.Error("expected error for missing date")
	}
	if _, err := computer.Compute(ctx, NamespaceDailyForecast, map[string]any{"subject_id": "subject-1", "date": "junk"}); err == nil {
		t.Error("expected error for malformed date")
	}
}
