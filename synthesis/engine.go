// Package synthesis merges independent computed readings into a single
// narrative guidance object.
//
// Design Philosophy:
// - The AI upstream is unreliable by assumption: every call runs under a
//   hard timeout and a circuit breaker, and a deterministic template can
//   always produce a usable narrative without it
// - No hidden state: the AI client is injected at construction, the
//   breaker is owned by the engine and testable through call outcomes alone
// - Low-confidence AI output is treated as a failure so the breaker sees
//   a degraded upstream, not just a dead one
//
// Failure routing:
//   AI ok + confident  -> Source: ai, breaker records success
//   AI error/timeout   -> Source: fallback, breaker records failure
//   AI low confidence  -> Source: fallback, breaker records failure
//   breaker open       -> Source: fallback, AI not called at all
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"encore.app/pkg/models"
)

// Context carries the non-reading inputs to a synthesis call.
type Context struct {
	SubjectID string
	Date      time.Time
	Energy    models.EnergyProfile
}

// AIClient abstracts the upstream AI summarizer.
// Implementations must honor ctx cancellation.
type AIClient interface {
	Synthesize(ctx context.Context, readings []models.Reading, sc Context) (*AIResponse, error)
}

// AIResponse is what the AI upstream returns on success.
type AIResponse struct {
	Narrative  string   `json:"narrative"`
	Themes     []string `json:"themes"`
	Confidence float64  `json:"confidence"`
}

// Config holds synthesis engine settings.
type Config struct {
	// AITimeout is the hard deadline for one AI call.
	AITimeout time.Duration
	// ConfidenceFloor below which an AI result is discarded as a failure.
	ConfidenceFloor float64
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32
	// CoolDown is how long the breaker stays open before allowing a probe.
	CoolDown time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		AITimeout:        3 * time.Second,
		ConfidenceFloor:  0.4,
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// FallbackConfidence is the fixed baseline assigned to template narratives.
const FallbackConfidence = 0.6

var errLowConfidence = errors.New("ai confidence below floor")

// Engine synthesizes readings into narrative guidance, preferring the AI
// upstream and degrading to the deterministic template.
type Engine struct {
	client  AIClient // nil means fallback-only
	config  Config
	breaker *gobreaker.CircuitBreaker
}

// NewEngine creates a synthesis engine. A nil client disables the AI path
// entirely; every call then uses the fallback template.
func NewEngine(client AIClient, config Config) *Engine {
	threshold := config.FailureThreshold
	if threshold == 0 {
		threshold = DefaultConfig().FailureThreshold
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-synthesis",
		MaxRequests: 1, // half-open allows a single probe
		Timeout:     config.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Engine{
		client:  client,
		config:  config,
		breaker: breaker,
	}
}

// Synthesize merges readings and the energy profile into one result.
// Never returns an error for upstream failure; the fallback path always
// produces a result. The returned Source says which path was taken.
func (e *Engine) Synthesize(ctx context.Context, readings []models.Reading, sc Context) models.SynthesisResult {
	if e.client != nil {
		if result, ok := e.tryAI(ctx, readings, sc); ok {
			return result
		}
	}
	return e.fallback(readings, sc)
}

// tryAI runs one breaker-guarded, timeout-bounded AI call.
func (e *Engine) tryAI(ctx context.Context, readings []models.Reading, sc Context) (models.SynthesisResult, bool) {
	out, err := e.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.config.AITimeout)
		defer cancel()

		resp, err := e.client.Synthesize(callCtx, readings, sc)
		if err != nil {
			return nil, fmt.Errorf("ai synthesize: %w", err)
		}
		if resp.Confidence < e.config.ConfidenceFloor {
			return nil, fmt.Errorf("%w: %.2f < %.2f", errLowConfidence, resp.Confidence, e.config.ConfidenceFloor)
		}
		return resp, nil
	})
	if err != nil {
		// Breaker open, probe refused, call failed, or low confidence:
		// all route to the fallback. Nothing to surface to the caller.
		return models.SynthesisResult{}, false
	}

	resp := out.(*AIResponse)
	return models.SynthesisResult{
		Narrative:  resp.Narrative,
		KeyThemes:  ExtractThemes(resp.Narrative, readings, resp.Themes),
		Confidence: resp.Confidence,
		Source:     models.SourceAI,
	}, true
}

// BreakerState exposes the circuit breaker state for status endpoints
// and tests. One of "closed", "open", "half-open".
func (e *Engine) BreakerState() string {
	return e.breaker.State().String()
}
