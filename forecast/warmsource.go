package forecast

import (
	"context"
	"fmt"
	"time"

	"encore.app/pkg/models"
	"encore.app/resultcache"
)

// forecastComputer lets the cache warmer rebuild forecasts. Warm inputs use
// the same shape as dailyKeyInput so both sides derive identical cache keys.
//
// Warming only knows subject IDs, so the subject's full profile must have
// been seen by a forecast request recently; unknown subjects fail the task.
type forecastComputer struct {
	service *Service
}

func (c *forecastComputer) Compute(ctx context.Context, namespace string, input map[string]any) (*resultcache.ComputedResult, error) {
	if namespace != NamespaceDailyForecast {
		return nil, fmt.Errorf("namespace %q is not warmable", namespace)
	}

	subjectID, _ := input["subject_id"].(string)
	rawDate, _ := input["date"].(string)
	if subjectID == "" || rawDate == "" {
		return nil, fmt.Errorf("warm input requires subject_id and date")
	}

	profile, ok := c.service.subjects.Lookup(subjectID)
	if !ok {
		return nil, fmt.Errorf("unknown subject %q, no profile on record", subjectID)
	}

	date, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		return nil, fmt.Errorf("invalid warm date %q: %w", rawDate, err)
	}

	forecast, _, err := c.service.pipeline.Daily(ctx, profile, date.UTC())
	if err != nil {
		return nil, err
	}

	return &resultcache.ComputedResult{
		Payload:    forecast,
		Confidence: forecast.Synthesis.Confidence,
		TTLSeconds: c.service.pipeline.config.ForecastTTLSeconds,
		Metadata:   subjectMetadata(models.SubjectProfile{SubjectID: subjectID}),
	}, nil
}
