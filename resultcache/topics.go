package resultcache

import (
	"context"

	"encore.dev/pubsub"
	"encore.dev/rlog"

	events "encore.app/pkg/pubsub"
)

// Pub/Sub topic definitions for cache coordination.

var InvalidationTopic = pubsub.NewTopic[*events.InvalidationEvent](
	events.TopicCacheInvalidate,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var WarmCompletedTopic = pubsub.NewTopic[*events.WarmCompletedEvent](
	events.TopicCacheWarmCompleted,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Subscribe to invalidation events from other instances. Keeps replica
// stores eventually consistent with the instance that took the API call.
var _ = pubsub.NewSubscription(
	InvalidationTopic,
	"resultcache-invalidate",
	pubsub.SubscriptionConfig[*events.InvalidationEvent]{
		Handler: HandleInvalidationEvent,
	},
)

// HandleInvalidationEvent applies an invalidation broadcast to the local
// store. Events are idempotent: re-deleting an absent key is a no-op, so
// at-least-once delivery and the publisher's own local delete are both safe.
func HandleInvalidationEvent(ctx context.Context, event *events.InvalidationEvent) error {
	if svc == nil {
		return nil // Service not initialized yet
	}

	if err := event.Validate(); err != nil {
		// Drop malformed events rather than retrying forever.
		rlog.Error("dropping malformed invalidation event", "err", err)
		return nil
	}

	switch event.Scope {
	case events.ScopeKey:
		for _, key := range event.Keys {
			svc.store.Delete(event.Namespace, key)
		}
	case events.ScopeNamespace:
		svc.store.DeleteNamespace(event.Namespace)
	case events.ScopeSubject:
		svc.store.DeleteSubject(event.Subject)
	}

	return nil
}
