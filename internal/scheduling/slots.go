package scheduling

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
)

const defaultCandidatePage = 100

// ReserveRequest describes what the seat will be used for.
type ReserveRequest struct {
	AppointmentType string
	Telemedicine    bool
}

// ReservationToken represents one held seat. Releasing it twice is a no-op.
type ReservationToken struct {
	SlotID     uuid.UUID
	Slot       Slot
	ReservedAt time.Time
	released   atomic.Bool
}

// HeldSeat returns a token for the seat a persisted booking already holds.
func HeldSeat(b *Booking) *ReservationToken {
	return &ReservationToken{SlotID: b.SlotID, ReservedAt: b.CreatedAt}
}

func (t *ReservationToken) Released() bool { return t.released.Load() }

// SlotStore owns capacity accounting. Reserve and Release must run inside a
// Tx so the counter change commits or rolls back with the caller's writes.
type SlotStore struct {
	clock   clock.Clock
	metrics *metrics.SchedulingMetrics
}

func NewSlotStore(clk clock.Clock, m *metrics.SchedulingMetrics) *SlotStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &SlotStore{clock: clk, metrics: m}
}

// Reserve locks the slot row, validates it against req and the current time,
// then increments the booked count with a capacity ceiling.
func (s *SlotStore) Reserve(ctx context.Context, tx Tx, slotID uuid.UUID, req ReserveRequest) (*ReservationToken, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		s.metrics.ObserveReservation("error")
		return nil, err
	}

	now := s.clock.Now()
	if reason, ok := s.eligible(slot, req, now); !ok {
		s.metrics.ObserveReservation(string(reason))
		return nil, unavailable(slotID, reason)
	}

	count, err := tx.IncrementSlotCount(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrCapacityExhausted) {
			s.metrics.ObserveReservation(string(ReasonCapacity))
			return nil, unavailable(slotID, ReasonCapacity)
		}
		s.metrics.ObserveReservation("error")
		return nil, fmt.Errorf("increment slot %s: %w", slotID, err)
	}

	slot.BookedCount = count
	s.metrics.ObserveReservation("ok")
	return &ReservationToken{SlotID: slotID, Slot: *slot, ReservedAt: now}, nil
}

func (s *SlotStore) eligible(slot *Slot, req ReserveRequest, now time.Time) (UnavailableReason, bool) {
	switch {
	case req.Telemedicine && !slot.TelemedicineEnabled:
		return ReasonTelemedicine, false
	case !slot.Supports(req.AppointmentType):
		return ReasonAppointmentType, false
	case now.After(slot.CancellationDeadline()):
		return ReasonDeadline, false
	case slot.BookedCount >= slot.MaxCapacity:
		return ReasonCapacity, false
	}
	return "", true
}

// Release gives the seat back. The counter never drops below zero.
func (s *SlotStore) Release(ctx context.Context, tx Tx, token *ReservationToken) error {
	if token == nil || !token.released.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := tx.DecrementSlotCount(ctx, token.SlotID); err != nil {
		token.released.Store(false)
		return fmt.Errorf("decrement slot %s: %w", token.SlotID, err)
	}
	return nil
}

// FindCandidates scans matching slots page by page, ordered by start time.
// The sequence stops at the first error, which is yielded with a zero Slot.
func (s *SlotStore) FindCandidates(ctx context.Context, r Reader, f SlotFilter) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		page := f
		if page.Limit <= 0 {
			page.Limit = defaultCandidatePage
		}
		if page.StartsAfter.IsZero() {
			page.StartsAfter = s.clock.Now()
		}
		for {
			slots, err := r.ListSlots(ctx, page)
			if err != nil {
				yield(Slot{}, err)
				return
			}
			for _, slot := range slots {
				if !yield(slot, nil) {
					return
				}
			}
			if len(slots) < page.Limit {
				return
			}
			last := slots[len(slots)-1]
			page.After = &SlotCursor{StartAt: last.StartAt, ID: last.ID}
		}
	}
}
