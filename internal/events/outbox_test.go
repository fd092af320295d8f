package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestAppendAndFetchPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := New(BookingCreated, uuid.New(), uuid.New(), uuid.New(), now, map[string]any{"scheduled_at": "2025-03-02T10:00:00Z"})

	mock.ExpectExec("INSERT INTO event_outbox").
		WithArgs(ev.ID, string(BookingCreated), ev.BookingID, ev.BeneficiaryID, ev.ProviderID, ev.OccurredAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, Append(ctx, mock, ev))

	rows := pgxmock.NewRows([]string{"id", "event_type", "booking_id", "beneficiary_id", "provider_id", "occurred_at", "payload", "created_at"}).
		AddRow(ev.ID, string(ev.Type), ev.BookingID, ev.BeneficiaryID, ev.ProviderID, now, []byte(`{"scheduled_at":"2025-03-02T10:00:00Z"}`), now)
	mock.ExpectQuery("SELECT id, event_type").WithArgs(10).WillReturnRows(rows)

	outbox := NewPgOutbox(mock)
	entries, err := outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, BookingCreated, entries[0].Type)
	require.Equal(t, "2025-03-02T10:00:00Z", entries[0].Data["scheduled_at"])

	mock.ExpectExec("UPDATE event_outbox").WithArgs(ev.ID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := outbox.MarkDelivered(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
