package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/db"
)

// OutboxEntry is a persisted event awaiting delivery.
type OutboxEntry struct {
	Event
	CreatedAt time.Time
}

// Append writes ev to the outbox using q, which is normally the transaction
// that made the state change the event describes.
func Append(ctx context.Context, q db.Querier, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("events: marshal data: %w", err)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err = q.Exec(ctx, `
		INSERT INTO event_outbox (id, event_type, booking_id, beneficiary_id, provider_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, string(ev.Type), ev.BookingID, ev.BeneficiaryID, ev.ProviderID, ev.OccurredAt, data)
	if err != nil {
		return fmt.Errorf("events: insert outbox: %w", err)
	}
	return nil
}

// Outbox is the read side used by the Relay.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

type PgOutbox struct {
	q db.Querier
}

func NewPgOutbox(q db.Querier) *PgOutbox {
	if q == nil {
		panic("events: querier required")
	}
	return &PgOutbox{q: q}
}

func (o *PgOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := o.q.Query(ctx, `
		SELECT id, event_type, booking_id, beneficiary_id, provider_id, occurred_at, payload, created_at
		FROM event_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			typ     string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &typ, &e.BookingID, &e.BeneficiaryID, &e.ProviderID, &e.OccurredAt, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		e.Type = Type(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Data); err != nil {
				return nil, fmt.Errorf("events: decode payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (o *PgOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := o.q.Exec(ctx, `
		UPDATE event_outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
