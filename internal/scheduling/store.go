package scheduling

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/events"
)

// SlotFilter selects candidate slots. Dates are compared against each slot's
// local date. Results are ordered by StartAt then ID; After continues a scan.
type SlotFilter struct {
	ProviderID      *uuid.UUID
	FromDate        civil.Date
	ToDate          civil.Date
	AppointmentType string
	Telemedicine    bool
	OnlyAvailable   bool
	StartsAfter     time.Time
	// BookableAt keeps only slots whose cancellation deadline has not passed
	// at that instant.
	BookableAt      time.Time
	After           *SlotCursor
	Limit           int
}

type SlotCursor struct {
	StartAt time.Time
	ID      uuid.UUID
}

// WaitlistFilter selects entries in one status. With PriorityAt set, entries
// come back in priority order at that instant and expired ones are left out;
// otherwise they are ordered by creation time. ExpiredAt keeps only entries
// that are expired at that instant.
type WaitlistFilter struct {
	Status     WaitlistStatus
	PriorityAt time.Time
	ExpiredAt  time.Time
	Limit      int
}

// Reader holds the read paths shared by the store and its transactions.
type Reader interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)

	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListRescheduleHistory(ctx context.Context, bookingID uuid.UUID) ([]RescheduleEntry, error)
	ListSeriesBookings(ctx context.Context, seriesID uuid.UUID) ([]Booking, error)

	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error)

	GetSeries(ctx context.Context, id uuid.UUID) (*Series, error)
	ListSeries(ctx context.Context, status SeriesStatus) ([]Series, error)
}

// MoveBookingParams is the compare-and-swap for a reschedule: the update only
// applies while the booking is scheduled, still on FromSlotID and at
// ExpectedCount reschedules.
type MoveBookingParams struct {
	BookingID     uuid.UUID
	FromSlotID    uuid.UUID
	ToSlotID      uuid.UUID
	ScheduledAt   time.Time
	ExpectedCount int
}

// Tx is one unit of work. Slot counters change only through
// IncrementSlotCount/DecrementSlotCount; status changes are compare-and-swap
// and return ErrStatusConflict when the expected state no longer holds.
type Tx interface {
	Reader

	InsertSlot(ctx context.Context, s *Slot) error
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	IncrementSlotCount(ctx context.Context, id uuid.UUID) (int, error)
	DecrementSlotCount(ctx context.Context, id uuid.UUID) (int, error)

	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, reason string, byProvider bool) (*Booking, error)
	MoveBooking(ctx context.Context, p MoveBookingParams) (*Booking, error)
	InsertRescheduleEntry(ctx context.Context, e *RescheduleEntry) error

	InsertWaitlistEntry(ctx context.Context, e *WaitlistEntry) error
	UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus, bookingID *uuid.UUID, at time.Time) (*WaitlistEntry, error)

	InsertSeries(ctx context.Context, s *Series) error
	UpdateSeriesStatus(ctx context.Context, id uuid.UUID, from, to SeriesStatus) (*Series, error)
	RecordSeriesOccurrence(ctx context.Context, id uuid.UUID, expectedCount int) (*Series, error)
	AddSeriesSkipDate(ctx context.Context, id uuid.UUID, d civil.Date) error

	AppendEvent(ctx context.Context, ev events.Event) error
}

// Store runs units of work. fn's effects commit together or not at all.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
