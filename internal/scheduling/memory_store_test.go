package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRollsBackFailedUnit(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 2)
	boom := errors.New("boom")

	err := f.store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.IncrementSlotCount(ctx, slot.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.bookedCount(t, slot.ID))
}

func TestMemoryStoreCapacityCeiling(t *testing.T) {
	f := newFixture(t)
	slot := f.addSlot(72*time.Hour, 1)

	err := f.store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.IncrementSlotCount(ctx, slot.ID); err != nil {
			return err
		}
		_, err := tx.IncrementSlotCount(ctx, slot.ID)
		return err
	})
	require.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Zero(t, f.bookedCount(t, slot.ID))
}

func TestMemoryStoreListsWaitingEntriesByPriority(t *testing.T) {
	store := NewMemoryStore(nil)
	entry := func(u Urgency, age time.Duration, expires time.Time) WaitlistEntry {
		e := WaitlistEntry{
			ID:                 uuid.New(),
			BeneficiaryID:      uuid.New(),
			EarliestDate:       civil.DateOf(baseTime),
			LatestDate:         civil.DateOf(baseTime).AddDays(30),
			AcceptsAnyProvider: true,
			Urgency:            u,
			Status:             WaitlistWaiting,
			ExpiresAt:          expires,
			CreatedAt:          baseTime.Add(-age),
		}
		require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.InsertWaitlistEntry(ctx, &e)
		}))
		return e
	}
	later := baseTime.AddDate(0, 0, 30)
	routine := entry(UrgencyRoutine, 10*24*time.Hour, later)
	emergency := entry(UrgencyEmergency, 24*time.Hour, later)
	stale := entry(UrgencyUrgent, 2*24*time.Hour, baseTime.Add(-time.Minute))

	got, err := store.ListWaitlistEntries(context.Background(), WaitlistFilter{
		Status:     WaitlistWaiting,
		PriorityAt: baseTime,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, emergency.ID, got[0].ID)

	got, err = store.ListWaitlistEntries(context.Background(), WaitlistFilter{Status: WaitlistWaiting, PriorityAt: baseTime})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, routine.ID, got[1].ID)

	got, err = store.ListWaitlistEntries(context.Background(), WaitlistFilter{Status: WaitlistWaiting, ExpiredAt: baseTime})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestMemoryStoreBookableAtDropsSlotsPastDeadline(t *testing.T) {
	f := newFixture(t)
	soon := f.addSlot(2*time.Hour, 1)
	later := f.addSlot(72*time.Hour, 1)

	got, err := f.store.ListSlots(context.Background(), SlotFilter{BookableAt: baseTime})
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, later.ID)
	assert.NotContains(t, ids, soon.ID)
}
