package events

import (
	"context"
	"encoding/json"

	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// Emit builds an event with a JSON payload and publishes it. A payload that
// fails to marshal is logged and the event goes out without it. A nil
// publisher is a no-op.
func Emit(ctx context.Context, p Publisher, eventType models.EventType, entityType models.EntityType, entityID string, payload any) {
	if p == nil {
		return
	}

	event := &models.Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logger := logging.Component("events")
			logger.Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Msg("failed to marshal event payload")
		} else {
			event.Payload = raw
		}
	}
	p.Publish(ctx, event)
}
