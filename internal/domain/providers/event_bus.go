package providers

import (
	"context"

	"github.com/clinicledger/costing/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to costing events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.CostingEvent) error

	// Subscribe subscribes to events on a channel until ctx is cancelled
	Subscribe(ctx context.Context, channel string) (<-chan *entities.CostingEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelSnapshotPrefix is the prefix for per-snapshot channels
const EventChannelSnapshotPrefix = "costing:snapshot:"

// GetSnapshotChannel returns the channel name for a specific snapshot
func GetSnapshotChannel(snapshotID string) string {
	return EventChannelSnapshotPrefix + snapshotID
}
