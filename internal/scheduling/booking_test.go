package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemedicine-scheduling/internal/events"
)

func TestBookCreatesScheduledBookingAndEvent(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 2)

	b := f.book(t, slot.ID)

	assert.Equal(t, StatusScheduled, b.Status)
	assert.Equal(t, slot.StartAt, b.ScheduledAt)
	assert.Equal(t, f.provider, b.ProviderID)
	assert.Equal(t, 1, f.bookedCount(t, slot.ID))

	evs := f.store.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.BookingCreated, evs[0].Type)
	assert.Equal(t, b.ID, evs[0].BookingID)
}

func TestBookLastSeatRace(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.controller.Book(context.Background(), BookRequest{
				BeneficiaryID: uuid.New(),
				SlotID:        slot.ID,
			})
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotFull):
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, f.bookedCount(t, slot.ID))
}

func TestBookHookFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)
	boom := errors.New("boom")

	_, err := f.controller.Book(context.Background(), BookRequest{
		BeneficiaryID: uuid.New(),
		SlotID:        slot.ID,
		InTx:          func(context.Context, Tx, *Booking) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.bookedCount(t, slot.ID))
	assert.Empty(t, f.store.Events())
}

func TestBookRejectsMissingIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.Book(context.Background(), BookRequest{SlotID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRescheduleMovesSeat(t *testing.T) {
	f := newFixture(t)
	from := f.addSlot(72*time.Hour, 1)
	to := f.addSlot(96*time.Hour, 1)
	b := f.book(t, from.ID)

	actor := Actor{ID: b.BeneficiaryID}
	moved, err := f.controller.Reschedule(context.Background(), RescheduleRequest{
		BookingID: b.ID, NewSlotID: to.ID, Reason: "conflict", Actor: actor,
	})
	require.NoError(t, err)

	assert.Equal(t, b.ID, moved.ID)
	assert.Equal(t, to.ID, moved.SlotID)
	assert.Equal(t, to.StartAt, moved.ScheduledAt)
	assert.Equal(t, 1, moved.RescheduleCount)
	assert.Zero(t, f.bookedCount(t, from.ID))
	assert.Equal(t, 1, f.bookedCount(t, to.ID))

	_, history, err := f.controller.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, from.ID, history[0].OldSlotID)
	assert.Equal(t, to.ID, history[0].NewSlotID)
	assert.Equal(t, "conflict", history[0].Reason)

	evs := f.store.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.BookingRescheduled, evs[1].Type)
	assert.Equal(t, from.StartAt, evs[1].Data["previous_scheduled_at"])
}

func TestRescheduleLimit(t *testing.T) {
	f := newFixture(t)
	slots := make([]Slot, 5)
	for i := range slots {
		slots[i] = f.addSlot(time.Duration(72+i*24)*time.Hour, 1)
	}
	b := f.book(t, slots[0].ID)

	for i := 1; i <= DefaultMaxReschedules; i++ {
		_, err := f.controller.Reschedule(context.Background(), RescheduleRequest{BookingID: b.ID, NewSlotID: slots[i].ID})
		require.NoError(t, err)
	}

	_, err := f.controller.Reschedule(context.Background(), RescheduleRequest{BookingID: b.ID, NewSlotID: slots[4].ID})
	require.ErrorIs(t, err, ErrRescheduleLimitExceeded)
	assert.Equal(t, "reschedule_limit_exceeded", ReasonCode(err))

	got, _, err := f.controller.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, slots[3].ID, got.SlotID)
	assert.Equal(t, DefaultMaxReschedules, got.RescheduleCount)
	assert.Zero(t, f.bookedCount(t, slots[4].ID))
}

func TestRescheduleToFullSlotKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	from := f.addSlot(72*time.Hour, 1)
	to := f.addSlot(96*time.Hour, 1)
	b := f.book(t, from.ID)
	f.book(t, to.ID)

	_, err := f.controller.Reschedule(context.Background(), RescheduleRequest{BookingID: b.ID, NewSlotID: to.ID})
	require.ErrorIs(t, err, ErrRescheduleSlotUnavailable)
	assert.ErrorIs(t, err, ErrSlotFull)

	got, history, err := f.controller.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, from.ID, got.SlotID)
	assert.Zero(t, got.RescheduleCount)
	assert.Empty(t, history)
	assert.Equal(t, 1, f.bookedCount(t, from.ID))
	assert.Equal(t, 1, f.bookedCount(t, to.ID))
}

func TestRescheduleDeadlineAppliesToBeneficiaryOnly(t *testing.T) {
	f := newFixture(t)
	from := f.addSlot(30*time.Hour, 1)
	to := f.addSlot(96*time.Hour, 1)
	b := f.book(t, from.ID)

	f.clock.Advance(20 * time.Hour)
	_, err := f.controller.Reschedule(context.Background(), RescheduleRequest{
		BookingID: b.ID, NewSlotID: to.ID, Actor: Actor{ID: b.BeneficiaryID},
	})
	require.ErrorIs(t, err, ErrDeadlinePassed)

	moved, err := f.controller.Reschedule(context.Background(), RescheduleRequest{
		BookingID: b.ID, NewSlotID: to.ID, Actor: Actor{ID: f.provider, IsProvider: true},
	})
	require.NoError(t, err)
	assert.Equal(t, to.ID, moved.SlotID)
}

func TestRescheduleToSameSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 2)
	b := f.book(t, slot.ID)

	_, err := f.controller.Reschedule(context.Background(), RescheduleRequest{BookingID: b.ID, NewSlotID: slot.ID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelDeadline(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(48*time.Hour, 3)

	early := f.book(t, slot.ID)
	late := f.book(t, slot.ID)
	forced := f.book(t, slot.ID)

	f.clock.Advance(24*time.Hour - time.Second)
	got, err := f.controller.Cancel(context.Background(), CancelRequest{BookingID: early.ID, Reason: "sick"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "sick", got.CancellationReason)

	f.clock.Advance(2 * time.Second)
	_, err = f.controller.Cancel(context.Background(), CancelRequest{BookingID: late.ID})
	require.ErrorIs(t, err, ErrDeadlinePassed)

	got, err = f.controller.Cancel(context.Background(), CancelRequest{BookingID: forced.ID, ByProvider: true, Reason: "provider_unavailable"})
	require.NoError(t, err)
	assert.True(t, got.CancelledByProvider)

	assert.Equal(t, 1, f.bookedCount(t, slot.ID))
}

func TestCancelTwiceIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)
	b := f.book(t, slot.ID)

	got, err := f.controller.Cancel(context.Background(), CancelRequest{BookingID: b.ID})
	require.NoError(t, err)
	assert.False(t, got.HoldsSeat())
	_, err = f.controller.Cancel(context.Background(), CancelRequest{BookingID: b.ID})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, f.bookedCount(t, slot.ID))
}

func TestStartAndComplete(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)
	b := f.book(t, slot.ID)

	_, err := f.controller.Complete(context.Background(), b.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.controller.Start(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	_, err = f.controller.Cancel(context.Background(), CancelRequest{BookingID: b.ID, ByProvider: true})
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err = f.controller.Complete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.HoldsSeat())

	_, err = f.controller.Start(context.Background(), b.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.bookedCount(t, slot.ID))
}

func TestConcurrentCancelAndStart(t *testing.T) {
	for range 20 {
		f := newFixture(t)
		slot := f.addSlot(72*time.Hour, 1)
		b := f.book(t, slot.ID)

		var (
			wg                  sync.WaitGroup
			cancelErr, startErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = f.controller.Cancel(context.Background(), CancelRequest{BookingID: b.ID})
		}()
		go func() {
			defer wg.Done()
			_, startErr = f.controller.Start(context.Background(), b.ID)
		}()
		wg.Wait()

		got, _, err := f.controller.Get(context.Background(), b.ID)
		require.NoError(t, err)
		if cancelErr == nil {
			require.ErrorIs(t, startErr, ErrInvalidTransition)
			assert.Equal(t, StatusCancelled, got.Status)
			assert.Zero(t, f.bookedCount(t, slot.ID))
		} else {
			require.NoError(t, startErr)
			require.ErrorIs(t, cancelErr, ErrInvalidTransition)
			assert.Equal(t, StatusInProgress, got.Status)
			assert.Equal(t, 1, f.bookedCount(t, slot.ID))
		}
	}
}

func TestDeletedSlotBlocksTransitions(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)
	other := f.addSlot(96*time.Hour, 1)
	b := f.book(t, slot.ID)
	f.store.DeleteSlot(slot.ID)

	_, err := f.controller.Start(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	_, err = f.controller.Cancel(context.Background(), CancelRequest{BookingID: b.ID})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	_, err = f.controller.Reschedule(context.Background(), RescheduleRequest{BookingID: b.ID, NewSlotID: other.ID})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, "slot_unavailable", ReasonCode(err))
	assert.Zero(t, f.bookedCount(t, other.ID))
}

func TestUnknownBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.Start(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
	_, _, err = f.controller.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}
