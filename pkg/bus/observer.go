package bus

import (
	"context"
	"log/slog"
	"time"

	"vtagent/pkg/logger"
)

// Observe logs every event until ctx ends or the bus closes.
func Observe(ctx context.Context, b *Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.KeyComponent, "bus.events")

	events, unsubscribe := b.Subscribe(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	// Same attribute set for every type so turns are easy to correlate.
	attrs := []any{
		"event_type", event.Type,
		logger.KeyTurn, event.TurnID,
		logger.KeyCharacter, event.Agent,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventTurnFailed:
		log.Error("Turn event", append(attrs, "error", event.Error)...)
	case EventTurnStarted, EventTurnCompleted, EventTurnInterrupted, EventTurnAbandoned:
		log.Info("Turn event", attrs...)
	default:
		log.Debug("Turn event", attrs...)
	}
}
