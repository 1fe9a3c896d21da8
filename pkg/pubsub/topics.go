// Package pubsub provides topic names and event type definitions for the
// forecast core's event-driven coordination.
//
// Topic Naming Convention:
//   - cache-invalidate: Result-cache invalidation events (namespace/key/subject)
//   - cache-warm-completed: Warming completion events
//   - forecast-generated: Forecast build completion events
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
//   - No direct Encore dependencies to keep pkg/ reusable across services
package pubsub

// Topic name constants for Encore Pub/Sub integration.
// These should be used when defining pubsub.Topic[T] in service code.
const (
	// TopicCacheInvalidate is published when cache entries are invalidated.
	// Event type: InvalidationEvent
	// Publishers: resultcache
	// Subscribers: monitoring, future replicas of resultcache
	TopicCacheInvalidate = "cache-invalidate"

	// TopicCacheWarmCompleted is published when a warming task finishes.
	// Event type: WarmCompletedEvent
	// Publishers: forecast (warming pool)
	// Subscribers: monitoring
	TopicCacheWarmCompleted = "cache-warm-completed"

	// TopicForecastGenerated is published when a forecast build completes.
	// Event type: ForecastGeneratedEvent
	// Publishers: forecast
	// Subscribers: monitoring
	TopicForecastGenerated = "forecast-generated"
)

// AllTopics returns all defined topic names.
// Useful for validation, testing, and administrative tools.
func AllTopics() []string {
	return []string{
		TopicCacheInvalidate,
		TopicCacheWarmCompleted,
		TopicForecastGenerated,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// TopicMetadata provides descriptive information about topics.
type TopicMetadata struct {
	Name        string
	Description string
	EventType   string
}

// GetTopicMetadata returns metadata for all topics.
// Useful for documentation generation and admin UIs.
func GetTopicMetadata() []TopicMetadata {
	return []TopicMetadata{
		{
			Name:        TopicCacheInvalidate,
			Description: "Result-cache invalidation events for namespace, key, or subject scoped clearing",
			EventType:   "InvalidationEvent",
		},
		{
			Name:        TopicCacheWarmCompleted,
			Description: "Cache warming completion notifications with per-item status",
			EventType:   "WarmCompletedEvent",
		},
		{
			Name:        TopicForecastGenerated,
			Description: "Forecast build completions with synthesis source and cache outcome",
			EventType:   "ForecastGeneratedEvent",
		},
	}
}
