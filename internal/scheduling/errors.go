package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound          = errors.New("slot not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
	ErrSeriesNotFound        = errors.New("series not found")

	ErrSlotUnavailable           = errors.New("slot unavailable")
	ErrSlotFull                  = errors.New("slot is full")
	ErrDeadlinePassed            = errors.New("deadline has passed")
	ErrRescheduleLimitExceeded   = errors.New("reschedule limit exceeded")
	ErrRescheduleSlotUnavailable = errors.New("new slot unavailable")
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrSeriesExhausted           = errors.New("series exhausted")
	ErrInvalidRequest            = errors.New("invalid request")

	// Store-level conditions; the controller translates these.
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrStatusConflict    = errors.New("status changed concurrently")
)

type UnavailableReason string

const (
	ReasonCapacity        UnavailableReason = "capacity"
	ReasonDeadline        UnavailableReason = "deadline"
	ReasonTelemedicine    UnavailableReason = "telemedicine"
	ReasonAppointmentType UnavailableReason = "appointment_type"
	ReasonGone            UnavailableReason = "gone"
)

// SlotUnavailableError is returned by reservation. It matches ErrSlotUnavailable
// and, for capacity and deadline reasons, ErrSlotFull and ErrDeadlinePassed.
type SlotUnavailableError struct {
	SlotID uuid.UUID
	Reason UnavailableReason
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s unavailable: %s", e.SlotID, e.Reason)
}

func (e *SlotUnavailableError) Is(target error) bool {
	switch target {
	case ErrSlotUnavailable:
		return true
	case ErrSlotFull:
		return e.Reason == ReasonCapacity
	case ErrDeadlinePassed:
		return e.Reason == ReasonDeadline
	}
	return false
}

func unavailable(slotID uuid.UUID, reason UnavailableReason) error {
	return &SlotUnavailableError{SlotID: slotID, Reason: reason}
}

// ReasonCode maps an error to the machine-readable code handed to callers.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRescheduleLimitExceeded):
		return "reschedule_limit_exceeded"
	case errors.Is(err, ErrRescheduleSlotUnavailable):
		return "reschedule_slot_unavailable"
	case errors.Is(err, ErrSlotFull):
		return "slot_full"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict):
		return "invalid_transition"
	case errors.Is(err, ErrSlotUnavailable):
		var sue *SlotUnavailableError
		if errors.As(err, &sue) && sue.Reason != ReasonGone {
			return "slot_unavailable_" + string(sue.Reason)
		}
		return "slot_unavailable"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrBookingNotFound):
		return "booking_not_found"
	case errors.Is(err, ErrWaitlistEntryNotFound):
		return "waitlist_entry_not_found"
	case errors.Is(err, ErrSeriesNotFound):
		return "series_not_found"
	case errors.Is(err, ErrSeriesExhausted):
		return "series_exhausted"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal_error"
}

// IsTransient reports whether retrying later may succeed. Capacity and lost
// races are transient; limits, deadlines and bad requests are not.
func IsTransient(err error) bool {
	if errors.Is(err, ErrRescheduleLimitExceeded) || errors.Is(err, ErrDeadlinePassed) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidTransition) {
		return false
	}
	return errors.Is(err, ErrSlotFull) || errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrStatusConflict)
}
