// Package models provides canonical data models used across the forecast core.
//
// Design Philosophy:
// - Pure data types, no service dependencies, reusable across services
// - Explicit enumerations for classification values (no bare strings at call sites)
// - Cycle values are kept on the [-100, 100] scale end to end
// - Deterministic derivations live next to the types they derive from
package models

import (
	"time"
)

// Biorhythm cycle periods in days. These are fixed physiological model
// constants, not configuration.
const (
	PhysicalPeriodDays     = 23
	EmotionalPeriodDays    = 28
	IntellectualPeriodDays = 33
)

// CycleSample is one day's biorhythm state for a subject.
// Each component is in [-100, 100]; Overall is the arithmetic mean of the three.
type CycleSample struct {
	Date         time.Time `json:"date"`
	Physical     float64   `json:"physical"`
	Emotional    float64   `json:"emotional"`
	Intellectual float64   `json:"intellectual"`
	Overall      float64   `json:"overall"`
}

// EnergyLevel classifies a sample's overall value into a coarse band.
type EnergyLevel string

const (
	EnergyHigh     EnergyLevel = "high"
	EnergyBalanced EnergyLevel = "balanced"
	EnergyLow      EnergyLevel = "low"
	EnergyDepleted EnergyLevel = "depleted"
)

// Level maps Overall to an EnergyLevel band.
// Bands: [50,100] high, [0,50) balanced, [-50,0) low, [-100,-50) depleted.
func (s CycleSample) Level() EnergyLevel {
	switch {
	case s.Overall >= 50:
		return EnergyHigh
	case s.Overall >= 0:
		return EnergyBalanced
	case s.Overall >= -50:
		return EnergyLow
	default:
		return EnergyDepleted
	}
}

// TrendDirection classifies the movement of a cycle sequence.
type TrendDirection string

const (
	TrendAscending  TrendDirection = "ascending"
	TrendDescending TrendDirection = "descending"
	TrendStable     TrendDirection = "stable"
	TrendVolatile   TrendDirection = "volatile"
)

// TrendAnalysis summarizes the direction and reliability of a cycle window.
type TrendAnalysis struct {
	Direction  TrendDirection `json:"direction"`
	Volatility float64        `json:"volatility"` // population stddev of Overall
	Confidence float64        `json:"confidence"` // [0.3, 0.95], lower when volatile
}

// CriticalPeriodKind tags why a date was flagged.
type CriticalPeriodKind string

const (
	PeriodChallenge   CriticalPeriodKind = "challenge"
	PeriodOpportunity CriticalPeriodKind = "opportunity"
	PeriodTransition  CriticalPeriodKind = "transition"
)

// CriticalPeriod flags a date as unusually low, high, or rapidly changing.
// A single date can carry several records, one per triggered kind.
type CriticalPeriod struct {
	Date time.Time          `json:"date"`
	Kind CriticalPeriodKind `json:"kind"`
	Note string             `json:"note"`
}

// OptimalTiming maps the dominant cycle component to labeled time-of-day bands.
type OptimalTiming struct {
	BestHours        []string `json:"best_hours"`
	AvoidHours       []string `json:"avoid_hours"`
	PeakEnergyPeriod string   `json:"peak_energy_period"`
}

// EnergyProfile bundles everything the cycle model says about a target date.
type EnergyProfile struct {
	Sample          CycleSample      `json:"sample"`
	Level           EnergyLevel      `json:"level"`
	Trend           TrendAnalysis    `json:"trend"`
	CriticalPeriods []CriticalPeriod `json:"critical_periods"`
	Timing          OptimalTiming    `json:"timing"`
}

// SynthesisSource records whether a narrative came from the AI upstream or
// the deterministic fallback template.
type SynthesisSource string

const (
	SourceAI       SynthesisSource = "ai"
	SourceFallback SynthesisSource = "fallback"
)

// SynthesisResult is the merged narrative guidance built from readings.
type SynthesisResult struct {
	Narrative  string          `json:"narrative"`
	KeyThemes  []string        `json:"key_themes"`
	Confidence float64         `json:"confidence"`
	Source     SynthesisSource `json:"source"`
}

// Reading is one domain engine's contribution to a forecast.
//
// Engine outputs are dynamic upstream; here they are quarantined behind a
// tagged shape: Summary is the engine's first-line human text, Data carries
// the engine-specific fields, Themes are engine-tagged narrative themes.
// Confidence < 0 means the engine reported none.
type Reading struct {
	Source     string         `json:"source"` // engine name, e.g. "numerology"
	Summary    string         `json:"summary"`
	Data       map[string]any `json:"data,omitempty"`
	Themes     []string       `json:"themes,omitempty"`
	Confidence float64        `json:"confidence"`
}

// SubjectProfile identifies a forecast subject. Epoch (birth date) is the
// anchor for all cycle math and is required before any fan-out begins.
type SubjectProfile struct {
	SubjectID string    `json:"subject_id" validate:"required"`
	Epoch     time.Time `json:"epoch" validate:"required"`
	Name      string    `json:"name,omitempty"`
}

// DailyForecast is the per-date artifact produced by the pipeline.
type DailyForecast struct {
	SubjectID       string          `json:"subject_id"`
	Date            time.Time       `json:"date"`
	Energy          EnergyProfile   `json:"energy"`
	Readings        []Reading       `json:"readings"`
	Synthesis       SynthesisResult `json:"synthesis"`
	Recommendations []string        `json:"recommendations"`
	GeneratedAt     time.Time       `json:"generated_at"`
	FromCache       bool            `json:"from_cache"`
}

// WeeklyForecast aggregates seven consecutive daily forecasts.
type WeeklyForecast struct {
	SubjectID      string          `json:"subject_id"`
	WeekStart      time.Time       `json:"week_start"`
	Days           []DailyForecast `json:"days"`
	DominantEnergy EnergyLevel     `json:"dominant_energy"` // majority vote over days
	WeekTrend      TrendDirection  `json:"week_trend"`
	SharedThemes   []string        `json:"shared_themes"` // top 5 by frequency
	GeneratedAt    time.Time       `json:"generated_at"`
}
