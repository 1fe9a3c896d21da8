package biorhythm

import (
	"encore.app/pkg/models"
)

// Optimal-timing lookup table. Bands are fixed per dominant cycle; the
// mapping is deterministic and table-driven, no randomness.
//
// Rationale for the bands follows the classical biorhythm reading:
// physical peaks suit exertion at the day's edges, intellectual peaks suit
// focused work blocks, emotional peaks suit social evening hours.
var timingTable = map[string]models.OptimalTiming{
	"physical": {
		BestHours:        []string{"06:00-09:00", "17:00-20:00"},
		AvoidHours:       []string{"13:00-15:00"},
		PeakEnergyPeriod: "early morning and early evening",
	},
	"emotional": {
		BestHours:        []string{"18:00-22:00"},
		AvoidHours:       []string{"06:00-08:00"},
		PeakEnergyPeriod: "evening",
	},
	"intellectual": {
		BestHours:        []string{"09:00-12:00", "14:00-17:00"},
		AvoidHours:       []string{"20:00-23:00"},
		PeakEnergyPeriod: "mid-morning and mid-afternoon",
	},
	// No cycle positive: everything is in a trough, favor recovery.
	"rest": {
		BestHours:        []string{"10:00-12:00"},
		AvoidHours:       []string{"06:00-09:00", "17:00-22:00"},
		PeakEnergyPeriod: "late morning, keep the day light",
	},
}

// OptimalTiming maps a sample's dominant positive cycle to time-of-day
// bands via the fixed lookup table.
//
// Dominance: the largest of the three components, provided it is positive.
// Ties break in the fixed order physical, emotional, intellectual, matching
// the cycle's physiological precedence in the model.
func OptimalTiming(sample models.CycleSample) models.OptimalTiming {
	return timingTable[dominantCycle(sample)]
}

// dominantCycle names the strongest positive component, or "rest" when all
// three are non-positive.
func dominantCycle(sample models.CycleSample) string {
	name := "rest"
	best := 0.0

	// Order fixes tie-breaking.
	candidates := []struct {
		name  string
		value float64
	}{
		{"physical", sample.Physical},
		{"emotional", sample.Emotional},
		{"intellectual", sample.Intellectual},
	}

	for _, c := range candidates {
		if c.value > best {
			best = c.value
			name = c.name
		}
	}
	return name
}

// BuildEnergyProfile derives the full energy view of the first sample in a
// window: level, trend across the window, critical periods, and timing.
// The window should be centered on or starting at the target date.
func BuildEnergyProfile(samples []models.CycleSample) (models.EnergyProfile, error) {
	trend, err := AnalyzeTrend(samples)
	if err != nil {
		return models.EnergyProfile{}, err
	}

	target := samples[0]
	return models.EnergyProfile{
		Sample:          target,
		Level:           target.Level(),
		Trend:           trend,
		CriticalPeriods: FindCriticalPeriods(samples),
		Timing:          OptimalTiming(target),
	}, nil
}
