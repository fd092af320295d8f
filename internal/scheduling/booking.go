package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
)

const DefaultMaxReschedules = 3

var bookingTracer = otel.Tracer("telemed.internal.scheduling.booking")

type ControllerConfig struct {
	MaxReschedules int
	Metrics        *metrics.SchedulingMetrics
}

// Controller drives bookings through
// scheduled -> in_progress -> completed and scheduled -> cancelled.
// Every seat change goes through the SlotStore inside the same transaction
// as the booking write.
type Controller struct {
	store          Store
	slots          *SlotStore
	clock          clock.Clock
	logger         zerolog.Logger
	metrics        *metrics.SchedulingMetrics
	maxReschedules int
}

func NewController(store Store, slots *SlotStore, clk clock.Clock, logger zerolog.Logger, cfg ControllerConfig) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.MaxReschedules <= 0 {
		cfg.MaxReschedules = DefaultMaxReschedules
	}
	return &Controller{
		store:          store,
		slots:          slots,
		clock:          clk,
		logger:         logger.With().Str("component", "booking").Logger(),
		metrics:        cfg.Metrics,
		maxReschedules: cfg.MaxReschedules,
	}
}

func (c *Controller) Store() Store { return c.store }

func (c *Controller) Slots() *SlotStore { return c.slots }

func (c *Controller) Clock() clock.Clock { return c.clock }

// BookRequest asks for one seat. InTx, when set, runs inside the booking
// transaction after the booking row exists; returning an error aborts the
// booking and releases the seat.
type BookRequest struct {
	BeneficiaryID   uuid.UUID
	SlotID          uuid.UUID
	AppointmentType string
	Telemedicine    bool
	SeriesID        *uuid.UUID
	WaitlistEntryID *uuid.UUID
	InTx            func(ctx context.Context, tx Tx, b *Booking) error
}

// Book reserves a seat and creates a scheduled booking. Capacity failures
// match ErrSlotFull, deadline failures ErrDeadlinePassed.
func (c *Controller) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("slot_id", req.SlotID.String()),
		attribute.String("beneficiary_id", req.BeneficiaryID.String()),
	))
	defer span.End()

	if req.BeneficiaryID == uuid.Nil || req.SlotID == uuid.Nil {
		return nil, fmt.Errorf("%w: beneficiary and slot are required", ErrInvalidRequest)
	}

	var created *Booking
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		token, err := c.slots.Reserve(ctx, tx, req.SlotID, ReserveRequest{
			AppointmentType: req.AppointmentType,
			Telemedicine:    req.Telemedicine,
		})
		if err != nil {
			return err
		}

		now := c.clock.Now()
		b := &Booking{
			ID:              uuid.New(),
			BeneficiaryID:   req.BeneficiaryID,
			ProviderID:      token.Slot.ProviderID,
			SlotID:          req.SlotID,
			AppointmentType: req.AppointmentType,
			Telemedicine:    req.Telemedicine,
			Status:          StatusScheduled,
			ScheduledAt:     token.Slot.StartAt,
			SeriesID:        req.SeriesID,
			WaitlistEntryID: req.WaitlistEntryID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if req.InTx != nil {
			if err := req.InTx(ctx, tx, b); err != nil {
				return err
			}
		}

		ev := events.New(events.BookingCreated, b.ID, b.BeneficiaryID, b.ProviderID, now, map[string]any{
			"slot_id":      b.SlotID.String(),
			"scheduled_at": b.ScheduledAt,
		})
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		created = b
		return nil
	})
	if err != nil {
		c.observe("book", err)
		span.RecordError(err)
		return nil, fmt.Errorf("book: %w", err)
	}

	c.observe("book", nil)
	c.logger.Info().
		Str("booking_id", created.ID.String()).
		Str("slot_id", created.SlotID.String()).
		Str("beneficiary_id", created.BeneficiaryID.String()).
		Msg("booking created")
	return created, nil
}

type RescheduleRequest struct {
	BookingID uuid.UUID
	NewSlotID uuid.UUID
	Reason    string
	Actor     Actor
}

// Reschedule moves a scheduled booking to another slot. The new seat is
// secured before the old one is released; if the new slot cannot be reserved
// the booking is left exactly as it was.
func (c *Controller) Reschedule(ctx context.Context, req RescheduleRequest) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule", trace.WithAttributes(
		attribute.String("booking_id", req.BookingID.String()),
		attribute.String("new_slot_id", req.NewSlotID.String()),
	))
	defer span.End()

	var updated *Booking
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if b.Status != StatusScheduled {
			return fmt.Errorf("%w: cannot reschedule %s booking", ErrInvalidTransition, b.Status)
		}
		if b.RescheduleCount >= c.maxReschedules {
			return fmt.Errorf("%w: %d of %d used", ErrRescheduleLimitExceeded, b.RescheduleCount, c.maxReschedules)
		}
		if req.NewSlotID == b.SlotID {
			return fmt.Errorf("%w: new slot equals current slot", ErrInvalidRequest)
		}

		current, err := c.currentSlot(ctx, tx, b)
		if err != nil {
			return err
		}
		now := c.clock.Now()
		if !req.Actor.IsProvider && now.After(current.RescheduleDeadline()) {
			return fmt.Errorf("reschedule window closed at %s: %w", current.RescheduleDeadline().Format(time.RFC3339), ErrDeadlinePassed)
		}

		token, err := c.slots.Reserve(ctx, tx, req.NewSlotID, ReserveRequest{
			AppointmentType: b.AppointmentType,
			Telemedicine:    b.Telemedicine,
		})
		if err != nil {
			if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrSlotNotFound) {
				return fmt.Errorf("%w: %w", ErrRescheduleSlotUnavailable, err)
			}
			return err
		}

		moved, err := tx.MoveBooking(ctx, MoveBookingParams{
			BookingID:     b.ID,
			FromSlotID:    b.SlotID,
			ToSlotID:      req.NewSlotID,
			ScheduledAt:   token.Slot.StartAt,
			ExpectedCount: b.RescheduleCount,
		})
		if err != nil {
			return conflictToTransition(err)
		}
		if err := c.slots.Release(ctx, tx, HeldSeat(b)); err != nil {
			return err
		}

		entry := &RescheduleEntry{
			ID:              uuid.New(),
			BookingID:       b.ID,
			OldSlotID:       b.SlotID,
			NewSlotID:       req.NewSlotID,
			OldScheduledAt:  b.ScheduledAt,
			NewScheduledAt:  moved.ScheduledAt,
			Reason:          req.Reason,
			ActorID:         req.Actor.ID,
			ActorIsProvider: req.Actor.IsProvider,
			RescheduleCount: moved.RescheduleCount,
			CreatedAt:       now,
		}
		if err := tx.InsertRescheduleEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert reschedule entry: %w", err)
		}

		ev := events.New(events.BookingRescheduled, moved.ID, moved.BeneficiaryID, moved.ProviderID, now, map[string]any{
			"old_slot_id":           b.SlotID.String(),
			"new_slot_id":           moved.SlotID.String(),
			"previous_scheduled_at": b.ScheduledAt,
			"scheduled_at":          moved.ScheduledAt,
			"reschedule_count":      moved.RescheduleCount,
		})
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		updated = moved
		return nil
	})
	if err != nil {
		c.observe("reschedule", err)
		span.RecordError(err)
		return nil, fmt.Errorf("reschedule: %w", err)
	}

	c.observe("reschedule", nil)
	c.logger.Info().
		Str("booking_id", updated.ID.String()).
		Str("slot_id", updated.SlotID.String()).
		Int("reschedule_count", updated.RescheduleCount).
		Msg("booking rescheduled")
	return updated, nil
}

type CancelRequest struct {
	BookingID  uuid.UUID
	Reason     string
	ByProvider bool
}

// Cancel releases the seat and marks the booking cancelled. Non-provider
// cancellations are rejected once the slot's cancellation deadline has passed.
func (c *Controller) Cancel(ctx context.Context, req CancelRequest) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel", trace.WithAttributes(
		attribute.String("booking_id", req.BookingID.String()),
		attribute.Bool("by_provider", req.ByProvider),
	))
	defer span.End()

	var cancelled *Booking
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if b.Status != StatusScheduled {
			return fmt.Errorf("%w: cannot cancel %s booking", ErrInvalidTransition, b.Status)
		}

		now := c.clock.Now()
		slot, err := c.currentSlot(ctx, tx, b)
		if err != nil {
			return err
		}
		if !req.ByProvider && now.After(slot.CancellationDeadline()) {
			return fmt.Errorf("cancellation window closed at %s: %w", slot.CancellationDeadline().Format(time.RFC3339), ErrDeadlinePassed)
		}

		out, err := tx.UpdateBookingStatus(ctx, b.ID, StatusScheduled, StatusCancelled, req.Reason, req.ByProvider)
		if err != nil {
			return conflictToTransition(err)
		}
		if err := c.slots.Release(ctx, tx, HeldSeat(b)); err != nil {
			return err
		}

		ev := events.New(events.BookingCancelled, out.ID, out.BeneficiaryID, out.ProviderID, now, map[string]any{
			"slot_id":      out.SlotID.String(),
			"scheduled_at": out.ScheduledAt,
			"reason":       req.Reason,
			"by_provider":  req.ByProvider,
		})
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		cancelled = out
		return nil
	})
	if err != nil {
		c.observe("cancel", err)
		span.RecordError(err)
		return nil, fmt.Errorf("cancel: %w", err)
	}

	c.observe("cancel", nil)
	c.logger.Info().
		Str("booking_id", cancelled.ID.String()).
		Bool("by_provider", req.ByProvider).
		Str("reason", req.Reason).
		Msg("booking cancelled")
	return cancelled, nil
}

// Start moves a scheduled booking to in_progress.
func (c *Controller) Start(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return c.transition(ctx, "start", id, StatusScheduled, StatusInProgress)
}

// Complete moves an in_progress booking to completed.
func (c *Controller) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return c.transition(ctx, "complete", id, StatusInProgress, StatusCompleted)
}

func (c *Controller) transition(ctx context.Context, op string, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	ctx, span := bookingTracer.Start(ctx, "booking."+op, trace.WithAttributes(attribute.String("booking_id", id.String())))
	defer span.End()

	var out *Booking
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != from {
			return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, b.Status)
		}
		if _, err := c.currentSlot(ctx, tx, b); err != nil {
			return err
		}
		out, err = tx.UpdateBookingStatus(ctx, id, from, to, "", false)
		if err != nil {
			return conflictToTransition(err)
		}
		return nil
	})
	if err != nil {
		c.observe(op, err)
		span.RecordError(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.observe(op, nil)
	return out, nil
}

// Get returns a booking with its reschedule history.
func (c *Controller) Get(ctx context.Context, id uuid.UUID) (*Booking, []RescheduleEntry, error) {
	b, err := c.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get booking: %w", err)
	}
	history, err := c.store.ListRescheduleHistory(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list reschedule history: %w", err)
	}
	return b, history, nil
}

// currentSlot loads the booking's slot; a slot removed out-of-band makes the
// booking unavailable for further transitions.
func (c *Controller) currentSlot(ctx context.Context, tx Tx, b *Booking) (*Slot, error) {
	slot, err := tx.GetSlot(ctx, b.SlotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, unavailable(b.SlotID, ReasonGone)
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return slot, nil
}

func (c *Controller) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = ReasonCode(err)
	}
	c.metrics.ObserveTransition(op, outcome)
}

func conflictToTransition(err error) error {
	if errors.Is(err, ErrStatusConflict) {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	return err
}
