package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BookingCreated     Type = "BOOKING_CREATED"
	BookingRescheduled Type = "BOOKING_RESCHEDULED"
	BookingCancelled   Type = "BOOKING_CANCELLED"
	WaitlistMatched    Type = "WAITLIST_MATCHED"
)

// Event is what the scheduling core hands to the Notification Scheduler.
// Data carries the timestamps relevant to the event type (scheduled_at,
// previous_scheduled_at, respond_by...).
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Type          Type           `json:"type"`
	BookingID     uuid.UUID      `json:"booking_id"`
	BeneficiaryID uuid.UUID      `json:"beneficiary_id"`
	ProviderID    uuid.UUID      `json:"provider_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// New stamps an event with a fresh id.
func New(typ Type, bookingID, beneficiaryID, providerID uuid.UUID, at time.Time, data map[string]any) Event {
	return Event{
		ID:            uuid.New(),
		Type:          typ,
		BookingID:     bookingID,
		BeneficiaryID: beneficiaryID,
		ProviderID:    providerID,
		OccurredAt:    at.UTC(),
		Data:          data,
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter delivers an event to whatever fans it out to email/SMS/WhatsApp.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
