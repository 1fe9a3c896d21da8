// Cache entry model with confidence-gated admission metadata.
//
// Thread Safety: AccessCount uses atomic operations. Other fields are
// immutable after creation; a write under the same key replaces the entry
// wholesale (no merge), so no further synchronization is needed.
package models

import (
	"sync/atomic"
	"time"
)

// DefaultTTL is the default time-to-live for cache entries.
const DefaultTTL = 1 * time.Hour

// Admission constants. A computation that reports no confidence is assigned
// UnscoredConfidence, which clears the default threshold: cheap deterministic
// artifacts (raw cycle samples) stay cacheable, while anything that
// self-reports below threshold is refused. See EffectiveConfidence.
const (
	// DefaultAdmissionThreshold is the minimum confidence to cache,
	// unless overridden per namespace.
	DefaultAdmissionThreshold = 0.5

	// UnscoredConfidence is substituted when a payload carries no
	// confidence score (caller passes a negative value).
	UnscoredConfidence = 0.6
)

// Entry represents a cached computation result.
//
// Entries are write-once: the store replaces on same-key writes and never
// mutates payloads in place. Confidence is recorded as admitted so that
// forecast artifacts rebuilt from cache keep their original score.
type Entry struct {
	// Hot fields (frequently accessed)
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Payload   any    `json:"payload"`

	// Admission
	Confidence float64 `json:"confidence"`

	// Temporal fields
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`

	// Access tracking (atomic)
	AccessCount uint64 `json:"-"`

	// Metadata carries indexing hints, e.g. "subject" for subject-scoped
	// invalidation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEntry creates a cache entry. A negative confidence means the payload
// carried no score and is normalized to UnscoredConfidence. Zero ttl means
// DefaultTTL.
func NewEntry(namespace, key string, payload any, confidence float64, ttl time.Duration) *Entry {
	if confidence < 0 {
		confidence = UnscoredConfidence
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Entry{
		Namespace:  namespace,
		Key:        key,
		Payload:    payload,
		Confidence: confidence,
		CreatedAt:  time.Now(),
		TTL:        ttl,
		Metadata:   make(map[string]string),
	}
}

// EffectiveConfidence normalizes a caller-supplied confidence the same way
// NewEntry does, for use in admission decisions before an entry exists.
func EffectiveConfidence(confidence float64) float64 {
	if confidence < 0 {
		return UnscoredConfidence
	}
	return confidence
}

// IsExpired checks if the entry has expired based on TTL.
// Complexity: O(1)
func (e *Entry) IsExpired(now time.Time) bool {
	if e.TTL == 0 {
		return false // No expiration
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// ExpiresAt returns the absolute expiration time.
func (e *Entry) ExpiresAt() time.Time {
	if e.TTL == 0 {
		return time.Time{} // Never expires
	}
	return e.CreatedAt.Add(e.TTL)
}

// TimeUntilExpiry returns the duration until expiry, or 0 if already expired.
func (e *Entry) TimeUntilExpiry(now time.Time) time.Duration {
	if e.TTL == 0 {
		return time.Duration(1<<63 - 1) // Max duration (never expires)
	}

	remaining := e.CreatedAt.Add(e.TTL).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch increments the access counter. Thread-safe.
func (e *Entry) Touch() {
	atomic.AddUint64(&e.AccessCount, 1)
}

// GetAccessCount returns the current access count (thread-safe).
func (e *Entry) GetAccessCount() uint64 {
	return atomic.LoadUint64(&e.AccessCount)
}

// Subject returns the subject ID this entry is indexed under, if any.
func (e *Entry) Subject() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	s, ok := e.Metadata["subject"]
	return s, ok && s != ""
}

// Clone creates a copy of the entry with an independent metadata map.
// The payload itself is shared; entries are immutable so this is safe.
func (e *Entry) Clone() *Entry {
	metadata := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}

	return &Entry{
		Namespace:   e.Namespace,
		Key:         e.Key,
		Payload:     e.Payload,
		Confidence:  e.Confidence,
		CreatedAt:   e.CreatedAt,
		TTL:         e.TTL,
		AccessCount: atomic.LoadUint64(&e.AccessCount),
		Metadata:    metadata,
	}
}
