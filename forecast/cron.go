package forecast

import (
	"context"
	"time"

	"encore.dev/cron"
	"encore.dev/rlog"

	"encore.app/resultcache"
)

// Pre-warm tomorrow's forecasts for recently active subjects, overnight when
// traffic is low.
var _ = cron.NewJob("prewarm-forecasts", cron.JobConfig{
	Title:    "Pre-warm next-day forecasts",
	Schedule: "0 3 * * *",
	Endpoint: PrewarmForecasts,
})

// Drop subjects and limiter buckets that have gone quiet.
var _ = cron.NewJob("evict-stale-subjects", cron.JobConfig{
	Title:    "Evict stale subject profiles",
	Schedule: "30 * * * *",
	Endpoint: EvictStaleSubjects,
})

// activeSubjectWindow bounds which subjects are worth pre-warming.
const activeSubjectWindow = 48 * time.Hour

// PrewarmForecasts queues next-day forecast builds for active subjects.
//
//encore:api private
func PrewarmForecasts(ctx context.Context) error {
	if _, err := initService(); err != nil {
		return err
	}
	return svc.PrewarmForecasts(ctx)
}

func (s *Service) PrewarmForecasts(ctx context.Context) error {
	subjects := s.subjects.ActiveSince(time.Now().Add(-activeSubjectWindow))
	if len(subjects) == 0 {
		rlog.Info("no active subjects, skipping pre-warm")
		return nil
	}

	tomorrow := truncateDay(time.Now()).AddDate(0, 0, 1)
	inputs := make([]map[string]any, 0, len(subjects))
	for _, subject := range subjects {
		inputs = append(inputs, dailyKeyInput(subject.SubjectID, tomorrow))
	}

	resp, err := resultcache.Warm(ctx, &resultcache.WarmRequest{
		Namespace: NamespaceDailyForecast,
		Inputs:    inputs,
	})
	if err != nil {
		return err
	}

	rlog.Info("queued next-day forecast warming",
		"job_id", resp.JobID, "queued", resp.Queued, "skipped", resp.Skipped)
	return nil
}

// EvictStaleSubjects trims the subject registry and rate limiter state.
//
//encore:api private
func EvictStaleSubjects(ctx context.Context) error {
	if _, err := initService(); err != nil {
		return err
	}
	return svc.EvictStaleSubjects(ctx)
}

func (s *Service) EvictStaleSubjects(ctx context.Context) error {
	subjects := s.subjects.Evict(time.Now().Add(-activeSubjectWindow))
	buckets := s.limiter.EvictStaleKeys(activeSubjectWindow)
	if subjects > 0 || buckets > 0 {
		rlog.Info("evicted stale subject state", "subjects", subjects, "limiter_buckets", buckets)
	}
	return nil
}
