package events

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
)

func TestRedisEventBus_StaleReceiveLoopKeepsNewSubscription(t *testing.T) {
	bus := NewRedisEventBus(nil, zerolog.Nop())
	channel := providers.GetSnapshotChannel("s1")

	// the channel was unsubscribed and subscribed again before the old loop exited
	stale := &redis.PubSub{}
	current := &redis.PubSub{}
	subscriber := make(chan *entities.CostingEvent, 1)
	bus.subscriptions[channel] = current
	bus.subscribers[channel] = map[chan *entities.CostingEvent]struct{}{subscriber: {}}

	require.NoError(t, bus.releaseChannel(channel, stale))

	assert.Same(t, current, bus.subscriptions[channel])
	assert.Contains(t, bus.subscribers[channel], subscriber)

	event := &entities.CostingEvent{ID: "e1"}
	subscriber <- event
	got, ok := <-subscriber
	assert.True(t, ok, "subscriber channel must stay open")
	assert.Same(t, event, got)
}

func TestRedisEventBus_ReleaseWithoutSubscriptionIsNoop(t *testing.T) {
	bus := NewRedisEventBus(nil, zerolog.Nop())

	require.NoError(t, bus.releaseChannel("costing:events", &redis.PubSub{}))
	assert.Empty(t, bus.subscriptions)
	assert.Empty(t, bus.subscribers)
}
