package forecast

import (
	"fmt"

	"encore.app/pkg/models"
)

// MaxRecommendations bounds the advice list on a forecast.
const MaxRecommendations = 8

// Recommendations are assembled from fixed branch tables so identical
// forecasts always produce identical advice. Three branches contribute in
// order: energy level, trend direction, then key themes.

var energyRecommendations = map[models.EnergyLevel][]string{
	models.EnergyHigh: {
		"Schedule your most demanding work today while energy is peaking.",
		"Take on challenges you have been postponing.",
	},
	models.EnergyBalanced: {
		"Maintain a steady pace; this is a good day for routine progress.",
		"Balance focused work with short breaks to hold your rhythm.",
	},
	models.EnergyLow: {
		"Prioritize essential tasks and defer what can wait.",
		"Build in extra rest; recovery compounds faster on low days.",
	},
	models.EnergyDepleted: {
		"Keep commitments minimal and avoid major decisions today.",
		"Focus on restoration: sleep, light movement, quiet time.",
	},
}

var trendRecommendations = map[models.TrendDirection][]string{
	models.TrendAscending: {
		"Momentum is building; start initiatives now to ride the upswing.",
	},
	models.TrendDescending: {
		"Energy is tapering; front-load important work early in the period.",
	},
	models.TrendStable: {
		"Conditions are steady; a reliable window for consistent habits.",
	},
	models.TrendVolatile: {
		"Expect swings; keep plans flexible and avoid overcommitting.",
	},
}

// Keys follow the synthesis theme vocabulary; unknown themes contribute
// nothing.
var themeRecommendations = map[string]string{
	"energy":        "Channel surplus energy into one concrete deliverable.",
	"rest":          "Protect your downtime; skip optional obligations.",
	"creativity":    "Reserve unstructured time for creative exploration.",
	"relationships": "Reach out to someone you have been meaning to contact.",
	"decision":      "Make the pending decision; conditions favor commitment.",
	"physical":      "Move your body early; physical momentum carries the day.",
	"mental":        "Tackle analytical work while concentration runs deep.",
	"emotional":     "Name what you are feeling before responding to others.",
}

// BuildRecommendations derives the advice list for a forecast. Output is
// deterministic for a given profile and synthesis result, deduplicated, and
// capped at MaxRecommendations.
func BuildRecommendations(profile models.EnergyProfile, synth models.SynthesisResult) []string {
	recs := make([]string, 0, MaxRecommendations)
	seen := make(map[string]struct{})

	add := func(rec string) {
		if len(recs) >= MaxRecommendations {
			return
		}
		if _, dup := seen[rec]; dup {
			return
		}
		seen[rec] = struct{}{}
		recs = append(recs, rec)
	}

	for _, rec := range energyRecommendations[profile.Level] {
		add(rec)
	}
	for _, rec := range trendRecommendations[profile.Trend.Direction] {
		add(rec)
	}

	// Critical periods on the target date get a direct callout.
	for _, period := range profile.CriticalPeriods {
		switch period.Kind {
		case models.PeriodChallenge:
			add("A challenging window is flagged; leave slack in your schedule.")
		case models.PeriodOpportunity:
			add("An opportunity window is flagged; act on openings quickly.")
		case models.PeriodTransition:
			add("A transition is underway; expect shifting priorities.")
		}
	}

	if profile.Timing.PeakEnergyPeriod != "" {
		add(fmt.Sprintf("Plan peak-focus work for the %s.", profile.Timing.PeakEnergyPeriod))
	}

	for _, theme := range synth.KeyThemes {
		if rec, ok := themeRecommendations[theme]; ok {
			add(rec)
		}
	}

	return recs
}
