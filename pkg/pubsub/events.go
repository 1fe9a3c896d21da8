package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// InvalidationScope identifies what an invalidation targeted.
type InvalidationScope string

const (
	// ScopeKey targets one exact (namespace, key) pair.
	ScopeKey InvalidationScope = "key"
	// ScopeNamespace targets every entry under a namespace ("*" wildcard).
	ScopeNamespace InvalidationScope = "namespace"
	// ScopeSubject targets every entry indexed under a subject ID.
	ScopeSubject InvalidationScope = "subject"
)

// InvalidationEvent represents a result-cache invalidation.
// Published to TopicCacheInvalidate.
//
// Invalidation modes:
//   - Exact: Scope=key, Namespace and Keys set
//   - Namespace wildcard: Scope=namespace, Namespace set
//   - Subject-scoped: Scope=subject, Subject set (spans namespaces)
type InvalidationEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// Service that triggered the invalidation (e.g., "resultcache", "forecast")
	Service string `json:"service"`

	// Scope says which targeting mode was used.
	Scope InvalidationScope `json:"scope"`

	// Namespace the invalidation ran against. Empty for subject scope.
	Namespace string `json:"namespace,omitempty"`

	// Keys invalidated (exact match). Empty for wildcard/subject scope.
	Keys []string `json:"keys,omitempty"`

	// Subject ID for subject-scoped invalidation.
	Subject string `json:"subject,omitempty"`

	// Removed is the number of entries actually dropped.
	Removed int `json:"removed"`

	// TriggeredAt is the time the invalidation was requested
	TriggeredAt time.Time `json:"triggered_at"`

	// RequestID for distributed tracing and correlation
	RequestID string `json:"request_id"`
}

// Validate checks if the InvalidationEvent is well-formed.
func (e *InvalidationEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Service == "" {
		return errors.New("service field is required")
	}

	switch e.Scope {
	case ScopeKey:
		if e.Namespace == "" || len(e.Keys) == 0 {
			return errors.New("key scope requires namespace and keys")
		}
	case ScopeNamespace:
		if e.Namespace == "" {
			return errors.New("namespace scope requires a namespace")
		}
	case ScopeSubject:
		if e.Subject == "" {
			return errors.New("subject scope requires a subject")
		}
	default:
		return fmt.Errorf("unknown scope: %q", e.Scope)
	}

	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *InvalidationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// InvalidationEventFromJSON deserializes an InvalidationEvent from JSON.
func InvalidationEventFromJSON(data []byte) (*InvalidationEvent, error) {
	var e InvalidationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal InvalidationEvent: %w", err)
	}
	return &e, nil
}

// WarmCompletedEvent represents a cache warming task completion.
// Published to TopicCacheWarmCompleted.
type WarmCompletedEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// JobID groups tasks queued together into one warming job.
	JobID string `json:"job_id"`

	// Namespace the warmed entry was written under.
	Namespace string `json:"namespace"`

	// Key that was warmed.
	Key string `json:"key"`

	// Status is "success" or "failure".
	Status string `json:"status"`

	// Reason carries the failure cause or the admission-refusal reason.
	Reason string `json:"reason,omitempty"`

	// DurationMs is the wall time spent computing and storing the item.
	DurationMs int64 `json:"duration_ms"`

	// TriggeredAt is the task completion time.
	TriggeredAt time.Time `json:"triggered_at"`
}

// Validate checks if the WarmCompletedEvent is well-formed.
func (e *WarmCompletedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.JobID == "" {
		return errors.New("job_id is required")
	}
	if e.Namespace == "" || e.Key == "" {
		return errors.New("namespace and key are required")
	}
	if e.Status != "success" && e.Status != "failure" {
		return fmt.Errorf("status must be success or failure, got %q", e.Status)
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}
	return nil
}

// ForecastGeneratedEvent records the completion of a forecast build.
// Published to TopicForecastGenerated.
type ForecastGeneratedEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// SubjectID is the forecast subject.
	SubjectID string `json:"subject_id"`

	// Kind is "daily" or "weekly".
	Kind string `json:"kind"`

	// Date is the target date (daily) or week start (weekly).
	Date time.Time `json:"date"`

	// SynthesisSource is "ai" or "fallback".
	SynthesisSource string `json:"synthesis_source"`

	// EngineSuccesses / EngineFailures count the fan-out outcome.
	EngineSuccesses int `json:"engine_successes"`
	EngineFailures  int `json:"engine_failures"`

	// Cached reports whether the artifact was admitted to the cache.
	Cached bool `json:"cached"`

	// DurationMs is the end-to-end build time.
	DurationMs int64 `json:"duration_ms"`

	// TriggeredAt is the build completion time.
	TriggeredAt time.Time `json:"triggered_at"`
}

// Validate checks if the ForecastGeneratedEvent is well-formed.
func (e *ForecastGeneratedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.SubjectID == "" {
		return errors.New("subject_id is required")
	}
	if e.Kind != "daily" && e.Kind != "weekly" {
		return fmt.Errorf("kind must be daily or weekly, got %q", e.Kind)
	}
	if e.SynthesisSource != "ai" && e.SynthesisSource != "fallback" {
		return fmt.Errorf("synthesis_source must be ai or fallback, got %q", e.SynthesisSource)
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}
	return nil
}
