package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/foodapp-backend/internal/events"
)

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	Logger *zerolog.Logger
}

// Notify implements events.Notifier.
func (n LogNotifier) Notify(ctx context.Context, ev events.Event) error {
	start := time.Now()
	logger := n.Logger
	if logger == nil {
		logger = zerolog.Ctx(ctx)
	}
	logger.Info().
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("domain_event")
	observe("log", nil, start)
	return nil
}
