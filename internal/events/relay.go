package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Relay moves pending outbox entries to an Emitter. Delivery is at-least-once:
// an entry is marked only after Emit succeeds.
type Relay struct {
	outbox    Outbox
	emitter   Emitter
	logger    zerolog.Logger
	batchSize int
}

func NewRelay(outbox Outbox, emitter Emitter, logger zerolog.Logger) *Relay {
	return &Relay{
		outbox:    outbox,
		emitter:   emitter,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		batchSize: 50,
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// RunOnce delivers one batch and returns how many entries were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("relay: %w", err)
	}

	delivered := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := r.emitter.Emit(ctx, entry.Event); err != nil {
			r.logger.Warn().Err(err).Str("event_id", entry.ID.String()).Str("type", string(entry.Type)).Msg("emit failed")
			continue
		}
		if _, err := r.outbox.MarkDelivered(ctx, entry.ID); err != nil {
			r.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("mark delivered failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}
