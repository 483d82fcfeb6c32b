package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

type actorKey struct{}

// WithActor stores the acting user on the context; it is recorded as lockedBy
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user stored on the context, or nil
func ActorFrom(ctx context.Context) *string {
	actor, ok := ctx.Value(actorKey{}).(string)
	if !ok || actor == "" {
		return nil
	}
	return &actor
}

// EventNotifier publishes costing events after a successful mutation.
// A nil notifier or nil bus publishes nothing.
type EventNotifier struct {
	bus     providers.EventBus
	channel string
	logger  zerolog.Logger
}

// NewEventNotifier creates a notifier publishing to channel and to the per-snapshot channel
func NewEventNotifier(bus providers.EventBus, channel string, logger zerolog.Logger) *EventNotifier {
	return &EventNotifier{bus: bus, channel: channel, logger: logger}
}

// Notify publishes the event; failures are logged and swallowed
func (n *EventNotifier) Notify(ctx context.Context, event *entities.CostingEvent) {
	if n == nil || n.bus == nil || event == nil {
		return
	}
	channels := []string{providers.GetSnapshotChannel(event.SnapshotID)}
	if n.channel != "" {
		channels = append(channels, n.channel)
	}
	for _, channel := range channels {
		if err := n.bus.Publish(ctx, channel, event); err != nil {
			n.logger.Warn().
				Err(err).
				Str("channel", channel).
				Str("snapshot_id", event.SnapshotID).
				Str("event_type", string(event.EventType)).
				Msg("failed to publish costing event")
		}
	}
}

// endSpan records err on the span and ends it
func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		observability.RecordError(span, *err)
	}
	span.End()
}

func snapshotNotFound(id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("snapshot %s not found", id))
}

// transitionError maps a refused status change to ValidationFailed
func transitionError(from, to entities.SnapshotStatus, err error) error {
	switch {
	case errors.Is(err, entities.ErrUnknownSnapshotStatus):
		return apperrors.NewValidationError(fmt.Sprintf("unknown snapshot status %q", to))
	case errors.Is(err, entities.ErrIllegalTransition):
		return apperrors.NewValidationError(fmt.Sprintf("snapshot cannot move from %s to %s", from, to))
	}
	return err
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
