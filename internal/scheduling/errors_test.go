package scheduling

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReasonCode(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		err  error
		want string
	}{
		{unavailable(id, ReasonCapacity), "slot_full"},
		{unavailable(id, ReasonDeadline), "deadline_passed"},
		{unavailable(id, ReasonTelemedicine), "slot_unavailable_telemedicine"},
		{unavailable(id, ReasonGone), "slot_unavailable"},
		{fmt.Errorf("%w: %w", ErrRescheduleSlotUnavailable, unavailable(id, ReasonCapacity)), "reschedule_slot_unavailable"},
		{fmt.Errorf("wrap: %w", ErrRescheduleLimitExceeded), "reschedule_limit_exceeded"},
		{fmt.Errorf("%w: %w", ErrInvalidTransition, ErrStatusConflict), "invalid_transition"},
		{ErrBookingNotFound, "booking_not_found"},
		{errors.New("db down"), "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, ReasonCode(tc.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	id := uuid.New()
	assert.True(t, IsTransient(unavailable(id, ReasonCapacity)))
	assert.True(t, IsTransient(ErrStatusConflict))
	assert.False(t, IsTransient(unavailable(id, ReasonDeadline)))
	assert.False(t, IsTransient(ErrRescheduleLimitExceeded))
	assert.False(t, IsTransient(errors.New("db down")))
}
