package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
)

var slotCols = []string{
	"id", "provider_id", "start_at", "end_at", "timezone", "max_capacity", "booked_count",
	"telemedicine_enabled", "appointment_types", "cancellation_deadline_hours", "reschedule_deadline_hours",
	"series_id", "created_at", "updated_at",
}

func slotRow(s Slot) *pgxmock.Rows {
	return pgxmock.NewRows(slotCols).AddRow(
		s.ID, s.ProviderID, s.StartAt, s.EndAt, s.Timezone, s.MaxCapacity, s.BookedCount,
		s.TelemedicineEnabled, s.AppointmentTypes, s.CancellationDeadlineHours, s.RescheduleDeadlineHours,
		s.SeriesID, s.CreatedAt, s.UpdatedAt,
	)
}

func testSlot(now time.Time) Slot {
	return Slot{
		ID:                        uuid.New(),
		ProviderID:                uuid.New(),
		StartAt:                   now.Add(72 * time.Hour),
		EndAt:                     now.Add(73 * time.Hour),
		Timezone:                  "UTC",
		MaxCapacity:               2,
		BookedCount:               1,
		TelemedicineEnabled:       true,
		AppointmentTypes:          []string{"consultation"},
		CancellationDeadlineHours: 24,
		RescheduleDeadlineHours:   12,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

func TestPgStoreBookWritesBookingAndOutbox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clk := clock.NewFixed(baseTime)
	slot := testSlot(baseTime)
	store := NewPgStore(mock)
	ctrl := NewController(store, NewSlotStore(clk, nil), clk, zerolog.Nop(), ControllerConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM slots WHERE id = \$1 FOR UPDATE`).WithArgs(slot.ID).WillReturnRows(slotRow(slot))
	mock.ExpectQuery(`UPDATE slots`).WithArgs(slot.ID).
		WillReturnRows(pgxmock.NewRows([]string{"booked_count"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), slot.ProviderID, slot.ID, "consultation", true, "scheduled",
			slot.StartAt, 0, "", false, pgxmock.AnyArg(), pgxmock.AnyArg(), baseTime, baseTime,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs(pgxmock.AnyArg(), "BOOKING_CREATED", pgxmock.AnyArg(), pgxmock.AnyArg(), slot.ProviderID, baseTime, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	b, err := ctrl.Book(context.Background(), BookRequest{
		BeneficiaryID:   uuid.New(),
		SlotID:          slot.ID,
		AppointmentType: "consultation",
		Telemedicine:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, slot.ProviderID, b.ProviderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreIncrementAtCapacity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	tx := &pgTx{pgQueries{q: mock}}

	mock.ExpectQuery(`UPDATE slots`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err = tx.IncrementSlotCount(context.Background(), id)
	require.ErrorIs(t, err, ErrCapacityExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreStatusConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	tx := &pgTx{pgQueries{q: mock}}

	mock.ExpectQuery(`UPDATE bookings`).
		WithArgs(id, "cancelled", "scheduled", "sick", false).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	_, err = tx.UpdateBookingStatus(context.Background(), id, StatusScheduled, StatusCancelled, "sick", false)
	require.ErrorIs(t, err, ErrStatusConflict)

	mock.ExpectQuery(`UPDATE bookings`).
		WithArgs(id, "in_progress", "scheduled", "", false).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = tx.UpdateBookingStatus(context.Background(), id, StatusScheduled, StatusInProgress, "", false)
	require.ErrorIs(t, err, ErrBookingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreRetriesSerializationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	slot := testSlot(baseTime)
	store := NewPgStore(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(slot.ID).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(slot.ID).WillReturnRows(slotRow(slot))
	mock.ExpectCommit()

	attempts := 0
	err = store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		attempts++
		_, err := tx.LockSlot(ctx, slot.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListSlotsBuildsKeyset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	provider := uuid.New()
	after := SlotCursor{StartAt: baseTime, ID: uuid.New()}
	slot := testSlot(baseTime)

	mock.ExpectQuery(`WHERE provider_id = \$1 AND booked_count < max_capacity AND \(start_at, id\) > \(\$2, \$3\) ORDER BY start_at, id LIMIT \$4`).
		WithArgs(provider, after.StartAt, after.ID, 50).
		WillReturnRows(slotRow(slot))

	got, err := NewPgStore(mock).ListSlots(context.Background(), SlotFilter{
		ProviderID:    &provider,
		OnlyAvailable: true,
		After:         &after,
		Limit:         50,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, slot.ID, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListWaitlistEntriesByPriority(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`(?s)WHERE status = \$1 AND expires_at > \$2 AND latest_date >= \$3::date ORDER BY \(CASE urgency.*\$2::timestamptz - created_at.*, created_at LIMIT \$4`).
		WithArgs("waiting", baseTime, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), 25).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	got, err := NewPgStore(mock).ListWaitlistEntries(context.Background(), WaitlistFilter{
		Status:     WaitlistWaiting,
		PriorityAt: baseTime,
		Limit:      25,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListExpiredWaitlistEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE status = \$1 AND \(expires_at <= \$2 OR latest_date < \$3::date\) ORDER BY created_at LIMIT \$4`).
		WithArgs("waiting", baseTime, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), 1000).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = NewPgStore(mock).ListWaitlistEntries(context.Background(), WaitlistFilter{
		Status:    WaitlistWaiting,
		ExpiredAt: baseTime,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListSlotsBookableAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE start_at > \$1 AND start_at - cancellation_deadline_hours \* interval '1 hour' >= \$2 ORDER BY start_at, id`).
		WithArgs(baseTime, baseTime).
		WillReturnRows(pgxmock.NewRows(slotCols))

	got, err := NewPgStore(mock).ListSlots(context.Background(), SlotFilter{StartsAfter: baseTime, BookableAt: baseTime})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
