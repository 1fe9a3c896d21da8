package biorhythm

import (
	"fmt"
	"math"
	"time"

	"encore.app/pkg/models"
)

// Trend classification constants. The volatility ceiling is inclusive: a
// window sitting exactly on the ceiling is classified volatile.
const (
	// TrendMargin is the minimum half-to-half mean delta (on the
	// [-100, 100] scale) to call a direction.
	TrendMargin = 5.0

	// VolatilityCeiling is the population stddev of Overall at or above
	// which the window is volatile regardless of directional delta.
	VolatilityCeiling = 30.0

	// Confidence clamp bounds for trend analysis.
	minTrendConfidence = 0.3
	maxTrendConfidence = 0.95
)

// Critical-period thresholds.
const (
	// ChallengeFloor: Overall below this flags a challenge day.
	ChallengeFloor = -30.0
	// OpportunityCeiling: Overall above this flags an opportunity day.
	OpportunityCeiling = 70.0
	// TransitionDelta: |day-over-day ΔOverall| above this flags a transition.
	TransitionDelta = 40.0
)

// AnalyzeTrend classifies the direction of a sample window.
//
// Direction is decided by comparing first-half and second-half means of
// Overall (split by index); volatility (population stddev of Overall) at or
// above VolatilityCeiling overrides any direction. Confidence decreases
// linearly with volatility and is clamped to [0.3, 0.95].
//
// Complexity: O(n).
func AnalyzeTrend(samples []models.CycleSample) (models.TrendAnalysis, error) {
	if len(samples) < 2 {
		return models.TrendAnalysis{}, fmt.Errorf("trend analysis needs at least 2 samples, got %d", len(samples))
	}

	mid := len(samples) / 2
	firstMean := meanOverall(samples[:mid])
	secondMean := meanOverall(samples[mid:])
	volatility := stddevOverall(samples)

	direction := models.TrendStable
	switch {
	case volatility >= VolatilityCeiling:
		direction = models.TrendVolatile
	case secondMean-firstMean > TrendMargin:
		direction = models.TrendAscending
	case firstMean-secondMean > TrendMargin:
		direction = models.TrendDescending
	}

	confidence := maxTrendConfidence - volatility/100
	if confidence < minTrendConfidence {
		confidence = minTrendConfidence
	}
	if confidence > maxTrendConfidence {
		confidence = maxTrendConfidence
	}

	return models.TrendAnalysis{
		Direction:  direction,
		Volatility: volatility,
		Confidence: confidence,
	}, nil
}

// FindCriticalPeriods flags challenge, opportunity, and transition days.
// The three checks run independently; a single day can contribute up to
// two records (a day cannot be both challenge and opportunity, but either
// can coincide with a transition).
//
// Complexity: O(n).
func FindCriticalPeriods(samples []models.CycleSample) []models.CriticalPeriod {
	periods := make([]models.CriticalPeriod, 0)

	for i, s := range samples {
		if s.Overall < ChallengeFloor {
			periods = append(periods, models.CriticalPeriod{
				Date: s.Date,
				Kind: models.PeriodChallenge,
				Note: fmt.Sprintf("overall energy low (%.1f): pace demands, protect recovery time", s.Overall),
			})
		}
		if s.Overall > OpportunityCeiling {
			periods = append(periods, models.CriticalPeriod{
				Date: s.Date,
				Kind: models.PeriodOpportunity,
				Note: fmt.Sprintf("overall energy peaking (%.1f): favorable for initiative", s.Overall),
			})
		}
		if i > 0 {
			delta := s.Overall - samples[i-1].Overall
			if math.Abs(delta) > TransitionDelta {
				periods = append(periods, models.CriticalPeriod{
					Date: s.Date,
					Kind: models.PeriodTransition,
					Note: fmt.Sprintf("rapid shift (%+.1f in one day): expect instability", delta),
				})
			}
		}
	}

	return periods
}

// CriticalPeriodsOn filters periods down to a single date.
func CriticalPeriodsOn(periods []models.CriticalPeriod, date time.Time) []models.CriticalPeriod {
	day := truncateUTC(date)
	out := make([]models.CriticalPeriod, 0)
	for _, p := range periods {
		if p.Date.Equal(day) {
			out = append(out, p)
		}
	}
	return out
}

// meanOverall averages the Overall component of a sample slice.
func meanOverall(samples []models.CycleSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Overall
	}
	return sum / float64(len(samples))
}

// stddevOverall computes the population standard deviation of Overall.
func stddevOverall(samples []models.CycleSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	mean := meanOverall(samples)
	sumSq := 0.0
	for _, s := range samples {
		d := s.Overall - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
