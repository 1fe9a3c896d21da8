// Package biorhythm computes multi-cycle periodic signals and derives
// trend, critical-period, and timing analytics from them.
//
// Design Philosophy:
// - Pure functions of (epoch, date): no clocks, no randomness, no state.
//   Identical inputs produce bit-identical output, which makes every
//   artifact in this package safe to cache indefinitely.
// - Day arithmetic is done on UTC-truncated dates so the same calendar day
//   yields the same sample regardless of the wall-clock time or zone of
//   the input values.
// - Classification thresholds are package constants, not configuration;
//   they define the model, and tests pin them.
package biorhythm

import (
	"fmt"
	"math"
	"time"

	"encore.app/pkg/models"
)

// Sine cycle model: value = sin(2π·Δdays/period)·100 for each of the three
// classical periods (23/28/33 days).

// ComputeCycles returns one sample per day in [target, target+windowDays).
// Epoch is the subject's birth date. windowDays must be >= 1.
//
// Complexity: O(windowDays).
func ComputeCycles(epoch, target time.Time, windowDays int) ([]models.CycleSample, error) {
	if epoch.IsZero() {
		return nil, fmt.Errorf("epoch date is required")
	}
	if windowDays < 1 {
		return nil, fmt.Errorf("windowDays must be >= 1, got %d", windowDays)
	}

	epochDay := truncateUTC(epoch)
	startDay := truncateUTC(target)
	if startDay.Before(epochDay) {
		return nil, fmt.Errorf("target date %s precedes epoch %s",
			startDay.Format("2006-01-02"), epochDay.Format("2006-01-02"))
	}

	samples := make([]models.CycleSample, 0, windowDays)
	for i := 0; i < windowDays; i++ {
		date := startDay.AddDate(0, 0, i)
		samples = append(samples, ComputeSample(epochDay, date))
	}
	return samples, nil
}

// ComputeSample computes the sample for a single date.
// Both times are truncated to UTC midnight before day counting.
func ComputeSample(epoch, date time.Time) models.CycleSample {
	days := elapsedDays(epoch, date)

	physical := cycleValue(days, models.PhysicalPeriodDays)
	emotional := cycleValue(days, models.EmotionalPeriodDays)
	intellectual := cycleValue(days, models.IntellectualPeriodDays)

	return models.CycleSample{
		Date:         truncateUTC(date),
		Physical:     physical,
		Emotional:    emotional,
		Intellectual: intellectual,
		Overall:      (physical + emotional + intellectual) / 3,
	}
}

// cycleValue evaluates one sine cycle on the [-100, 100] scale.
func cycleValue(elapsedDays int, periodDays int) float64 {
	return math.Sin(2*math.Pi*float64(elapsedDays)/float64(periodDays)) * 100
}

// elapsedDays counts whole days from epoch to date. Both are truncated to
// UTC midnight first, so the division is exact.
func elapsedDays(epoch, date time.Time) int {
	e := truncateUTC(epoch)
	d := truncateUTC(date)
	return int(d.Sub(e) / (24 * time.Hour))
}

// truncateUTC maps a time to midnight UTC of its calendar day.
func truncateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
