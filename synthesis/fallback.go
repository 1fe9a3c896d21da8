package synthesis

import (
	"fmt"
	"strings"

	"encore.app/pkg/models"
)

// Deterministic fallback template. One fixed-format sentence per successful
// reading, prefixed by the energy line. Identical inputs always produce an
// identical narrative, which keeps cached fallback forecasts reproducible.

// fallback builds the template narrative from whatever readings succeeded.
func (e *Engine) fallback(readings []models.Reading, sc Context) models.SynthesisResult {
	var b strings.Builder

	fmt.Fprintf(&b, "Energy Profile: %s (overall %.0f, trend %s).",
		sc.Energy.Level, sc.Energy.Sample.Overall, sc.Energy.Trend.Direction)

	for _, r := range readings {
		line := firstLine(r.Summary)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, " %s insight: %s.", titleCase(r.Source), line)
	}

	if sc.Energy.Timing.PeakEnergyPeriod != "" {
		fmt.Fprintf(&b, " Peak window: %s.", sc.Energy.Timing.PeakEnergyPeriod)
	}

	narrative := b.String()

	return models.SynthesisResult{
		Narrative:  narrative,
		KeyThemes:  ExtractThemes(narrative, readings, nil),
		Confidence: FallbackConfidence,
		Source:     models.SourceFallback,
	}
}

// firstLine extracts the first non-empty line of an engine summary,
// trimming a trailing period so the template's punctuation stays uniform.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return strings.TrimSuffix(line, ".")
		}
	}
	return ""
}

// titleCase capitalizes the first rune of an engine name for the template.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
