package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/telemedicine-scheduling/internal/db"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
)

const maxTxAttempts = 3

const slotColumns = `id, provider_id, start_at, end_at, timezone, max_capacity, booked_count,
	telemedicine_enabled, appointment_types, cancellation_deadline_hours, reschedule_deadline_hours,
	series_id, created_at, updated_at`

const bookingColumns = `id, beneficiary_id, provider_id, slot_id, appointment_type, telemedicine, status,
	scheduled_at, reschedule_count, cancellation_reason, cancelled_by_provider, series_id,
	waitlist_entry_id, created_at, updated_at`

const historyColumns = `id, booking_id, old_slot_id, new_slot_id, old_scheduled_at, new_scheduled_at,
	reason, actor_id, actor_is_provider, reschedule_count, created_at`

const waitlistColumns = `id, beneficiary_id, appointment_type, telemedicine, preferred_windows, preferred_days,
	earliest_date, latest_date, preferred_provider_id, accepts_any_provider, urgency, status, expires_at,
	notification_attempts, matched_booking_id, matched_at, created_at, updated_at`

const seriesColumns = `id, beneficiary_id, provider_id, appointment_type, telemedicine, pattern, interval_count,
	preferred_days, window_start, window_end, start_date, end_date, max_occurrences, occurrences_created,
	skip_dates, status, created_at, updated_at`

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pgQueries
	pool db.Pool
}

func NewPgStore(pool db.Pool) *PgStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PgStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

// InTx runs fn in a transaction, retrying on serialization failures and
// deadlocks, which two reschedules crossing the same pair of slots can cause.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{pgQueries{q: tx}})
		})
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type pgQueries struct {
	q db.Querier
}

type pgTx struct {
	pgQueries
}

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartAt,
		&s.EndAt,
		&s.Timezone,
		&s.MaxCapacity,
		&s.BookedCount,
		&s.TelemedicineEnabled,
		&s.AppointmentTypes,
		&s.CancellationDeadlineHours,
		&s.RescheduleDeadlineHours,
		&s.SeriesID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.BeneficiaryID,
		&b.ProviderID,
		&b.SlotID,
		&b.AppointmentType,
		&b.Telemedicine,
		&b.Status,
		&b.ScheduledAt,
		&b.RescheduleCount,
		&b.CancellationReason,
		&b.CancelledByProvider,
		&b.SeriesID,
		&b.WaitlistEntryID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func encodeWindows(ws []TimeWindow) ([]byte, error) {
	out := make([]windowJSON, 0, len(ws))
	for _, w := range ws {
		out = append(out, windowJSON{Start: w.Start.String(), End: w.End.String()})
	}
	return json.Marshal(out)
}

func decodeWindows(raw []byte) ([]TimeWindow, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var in []windowJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]TimeWindow, 0, len(in))
	for _, w := range in {
		start, err := civil.ParseTime(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := civil.ParseTime(w.End)
		if err != nil {
			return nil, err
		}
		out = append(out, TimeWindow{Start: start, End: end})
	}
	return out, nil
}

func encodeDays(days []time.Weekday) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}

func decodeDays(days []int32) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(d))
	}
	return out
}

func dateParam(d civil.Date) time.Time { return d.In(time.UTC) }

func timeParam(t civil.Time) pgtype.Time {
	return pgtype.Time{Microseconds: nanoOfDay(t) / 1000, Valid: true}
}

func civilTime(t pgtype.Time) civil.Time {
	d := time.Duration(t.Microseconds) * time.Microsecond
	return civil.Time{
		Hour:       int(d / time.Hour),
		Minute:     int(d % time.Hour / time.Minute),
		Second:     int(d % time.Minute / time.Second),
		Nanosecond: int(d % time.Second),
	}
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var (
		e        WaitlistEntry
		windows  []byte
		days     []int32
		earliest time.Time
		latest   time.Time
	)
	err := row.Scan(
		&e.ID,
		&e.BeneficiaryID,
		&e.AppointmentType,
		&e.Telemedicine,
		&windows,
		&days,
		&earliest,
		&latest,
		&e.PreferredProviderID,
		&e.AcceptsAnyProvider,
		&e.Urgency,
		&e.Status,
		&e.ExpiresAt,
		&e.NotificationAttempts,
		&e.MatchedBookingID,
		&e.MatchedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}
	if e.PreferredWindows, err = decodeWindows(windows); err != nil {
		return nil, fmt.Errorf("decode windows for %s: %w", e.ID, err)
	}
	e.PreferredDays = decodeDays(days)
	e.EarliestDate = civil.DateOf(earliest)
	e.LatestDate = civil.DateOf(latest)
	return &e, nil
}

func scanSeries(row pgx.Row) (*Series, error) {
	var (
		s           Series
		days        []int32
		windowStart pgtype.Time
		windowEnd   pgtype.Time
		startDate   time.Time
		endDate     *time.Time
		skipDates   []time.Time
	)
	err := row.Scan(
		&s.ID,
		&s.BeneficiaryID,
		&s.ProviderID,
		&s.AppointmentType,
		&s.Telemedicine,
		&s.Pattern,
		&s.Interval,
		&days,
		&windowStart,
		&windowEnd,
		&startDate,
		&endDate,
		&s.MaxOccurrences,
		&s.OccurrencesCreated,
		&skipDates,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}
	s.PreferredDays = decodeDays(days)
	if windowStart.Valid && windowEnd.Valid {
		s.PreferredWindow = &TimeWindow{Start: civilTime(windowStart), End: civilTime(windowEnd)}
	}
	s.StartDate = civil.DateOf(startDate)
	if endDate != nil {
		d := civil.DateOf(*endDate)
		s.EndDate = &d
	}
	for _, d := range skipDates {
		s.SkipDates = append(s.SkipDates, civil.DateOf(d))
	}
	return &s, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// missingOr reports notFound when the row does not exist and otherwise the
// compare-and-swap conflict that made an UPDATE match nothing.
func (r pgQueries) missingOr(ctx context.Context, table string, id uuid.UUID, notFound, conflict error) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s exists: %w", table, err)
	}
	if !exists {
		return notFound
	}
	return conflict
}

// Reader

func (r pgQueries) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r pgQueries) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ProviderID != nil {
		where = append(where, "provider_id = "+arg(*f.ProviderID))
	}
	if f.FromDate.IsValid() {
		where = append(where, "(start_at AT TIME ZONE timezone)::date >= "+arg(dateParam(f.FromDate))+"::date")
	}
	if f.ToDate.IsValid() {
		where = append(where, "(start_at AT TIME ZONE timezone)::date <= "+arg(dateParam(f.ToDate))+"::date")
	}
	if f.AppointmentType != "" {
		where = append(where, "(cardinality(appointment_types) = 0 OR "+arg(f.AppointmentType)+" = ANY(appointment_types))")
	}
	if f.Telemedicine {
		where = append(where, "telemedicine_enabled")
	}
	if f.OnlyAvailable {
		where = append(where, "booked_count < max_capacity")
	}
	if !f.StartsAfter.IsZero() {
		where = append(where, "start_at > "+arg(f.StartsAfter))
	}
	if !f.BookableAt.IsZero() {
		where = append(where, "start_at - cancellation_deadline_hours * interval '1 hour' >= "+arg(f.BookableAt))
	}
	if f.After != nil {
		where = append(where, "(start_at, id) > ("+arg(f.After.StartAt)+", "+arg(f.After.ID)+")")
	}

	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r pgQueries) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r pgQueries) ListRescheduleHistory(ctx context.Context, bookingID uuid.UUID) ([]RescheduleEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+historyColumns+`
		FROM reschedule_history
		WHERE booking_id = $1
		ORDER BY created_at, reschedule_count
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list reschedule history: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*RescheduleEntry, error) {
		var e RescheduleEntry
		err := row.Scan(&e.ID, &e.BookingID, &e.OldSlotID, &e.NewSlotID, &e.OldScheduledAt, &e.NewScheduledAt,
			&e.Reason, &e.ActorID, &e.ActorIsProvider, &e.RescheduleCount, &e.CreatedAt)
		return &e, err
	})
}

func (r pgQueries) ListSeriesBookings(ctx context.Context, seriesID uuid.UUID) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE series_id = $1
		ORDER BY scheduled_at
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series bookings: %w", err)
	}
	return collect(rows, scanBooking)
}

func (r pgQueries) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.q.QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanWaitlistEntry(row)
}

func (r pgQueries) ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	args := []any{string(f.Status)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE status = $1`
	order := "created_at"
	switch {
	case !f.PriorityAt.IsZero():
		at := arg(f.PriorityAt)
		query += " AND expires_at > " + at + " AND latest_date >= " + arg(dateParam(civil.DateOf(f.PriorityAt))) + "::date"
		// Same ordering as ComparePriority.
		order = `(CASE urgency WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 100 ELSE 200 END)
			- GREATEST(floor(extract(epoch FROM (` + at + `::timestamptz - created_at)) / 86400), 0)::int, created_at`
	case !f.ExpiredAt.IsZero():
		query += " AND (expires_at <= " + arg(f.ExpiredAt) + " OR latest_date < " + arg(dateParam(civil.DateOf(f.ExpiredAt))) + "::date)"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " ORDER BY " + order + " LIMIT " + arg(limit)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return collect(rows, scanWaitlistEntry)
}

func (r pgQueries) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	row := r.q.QueryRow(ctx, `SELECT `+seriesColumns+` FROM recurring_series WHERE id = $1`, id)
	return scanSeries(row)
}

func (r pgQueries) ListSeries(ctx context.Context, status SeriesStatus) ([]Series, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+seriesColumns+`
		FROM recurring_series
		WHERE status = $1
		ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return collect(rows, scanSeries)
}

// Tx

func (t *pgTx) InsertSlot(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	types := s.AppointmentTypes
	if types == nil {
		types = []string{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO slots (id, provider_id, start_at, end_at, timezone, max_capacity, booked_count,
			telemedicine_enabled, appointment_types, cancellation_deadline_hours, reschedule_deadline_hours,
			series_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, now(), now())
	`, s.ID, s.ProviderID, s.StartAt, s.EndAt, s.Timezone, s.MaxCapacity, s.TelemedicineEnabled, types,
		s.CancellationDeadlineHours, s.RescheduleDeadlineHours, s.SeriesID)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// LockSlot takes the row lock that serialises concurrent reservations.
func (t *pgTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (t *pgTx) IncrementSlotCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := t.q.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = booked_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count < max_capacity
		RETURNING booked_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, t.missingOr(ctx, "slots", id, ErrSlotNotFound, ErrCapacityExhausted)
		}
		return 0, err
	}
	return count, nil
}

func (t *pgTx) DecrementSlotCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := t.q.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = GREATEST(booked_count - 1, 0),
		    updated_at = now()
		WHERE id = $1
		RETURNING booked_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSlotNotFound
		}
		return 0, err
	}
	return count, nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, b.ID, b.BeneficiaryID, b.ProviderID, b.SlotID, b.AppointmentType, b.Telemedicine, string(b.Status),
		b.ScheduledAt, b.RescheduleCount, b.CancellationReason, b.CancelledByProvider, b.SeriesID,
		b.WaitlistEntryID, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, reason string, byProvider bool) (*Booking, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
		    cancelled_by_provider = CASE WHEN $2 = 'cancelled' THEN $5 ELSE cancelled_by_provider END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from), reason, byProvider)
	b, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, t.missingOr(ctx, "bookings", id, ErrBookingNotFound, ErrStatusConflict)
	}
	return b, err
}

func (t *pgTx) MoveBooking(ctx context.Context, p MoveBookingParams) (*Booking, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE bookings
		SET slot_id = $3,
		    scheduled_at = $4,
		    reschedule_count = reschedule_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND slot_id = $2
		  AND status = 'scheduled'
		  AND reschedule_count = $5
		RETURNING `+bookingColumns,
		p.BookingID, p.FromSlotID, p.ToSlotID, p.ScheduledAt, p.ExpectedCount)
	b, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, t.missingOr(ctx, "bookings", p.BookingID, ErrBookingNotFound, ErrStatusConflict)
	}
	return b, err
}

func (t *pgTx) InsertRescheduleEntry(ctx context.Context, e *RescheduleEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO reschedule_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.BookingID, e.OldSlotID, e.NewSlotID, e.OldScheduledAt, e.NewScheduledAt, e.Reason,
		e.ActorID, e.ActorIsProvider, e.RescheduleCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reschedule entry: %w", err)
	}
	return nil
}

func (t *pgTx) InsertWaitlistEntry(ctx context.Context, e *WaitlistEntry) error {
	windows, err := encodeWindows(e.PreferredWindows)
	if err != nil {
		return fmt.Errorf("encode windows: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO waitlist_entries (`+waitlistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, e.ID, e.BeneficiaryID, e.AppointmentType, e.Telemedicine, windows, encodeDays(e.PreferredDays),
		dateParam(e.EarliestDate), dateParam(e.LatestDate), e.PreferredProviderID, e.AcceptsAnyProvider,
		string(e.Urgency), string(e.Status), e.ExpiresAt, e.NotificationAttempts, e.MatchedBookingID,
		e.MatchedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus, bookingID *uuid.UUID, at time.Time) (*WaitlistEntry, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    matched_booking_id = CASE WHEN $2 = 'matched' THEN $4 ELSE matched_booking_id END,
		    matched_at = CASE WHEN $2 = 'matched' THEN $5 ELSE matched_at END,
		    notification_attempts = notification_attempts + CASE WHEN $2 = 'matched' THEN 1 ELSE 0 END,
		    updated_at = $5
		WHERE id = $1
		  AND status = $3
		RETURNING `+waitlistColumns,
		id, string(to), string(from), bookingID, at)
	e, err := scanWaitlistEntry(row)
	if errors.Is(err, ErrWaitlistEntryNotFound) {
		return nil, t.missingOr(ctx, "waitlist_entries", id, ErrWaitlistEntryNotFound, ErrStatusConflict)
	}
	return e, err
}

func (t *pgTx) InsertSeries(ctx context.Context, s *Series) error {
	var windowStart, windowEnd pgtype.Time
	if s.PreferredWindow != nil {
		windowStart = timeParam(s.PreferredWindow.Start)
		windowEnd = timeParam(s.PreferredWindow.End)
	}
	var endDate *time.Time
	if s.EndDate != nil {
		d := dateParam(*s.EndDate)
		endDate = &d
	}
	skip := make([]time.Time, 0, len(s.SkipDates))
	for _, d := range s.SkipDates {
		skip = append(skip, dateParam(d))
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO recurring_series (`+seriesColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, s.ID, s.BeneficiaryID, s.ProviderID, s.AppointmentType, s.Telemedicine, string(s.Pattern), s.Interval,
		encodeDays(s.PreferredDays), windowStart, windowEnd, dateParam(s.StartDate), endDate, s.MaxOccurrences,
		s.OccurrencesCreated, skip, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert series: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateSeriesStatus(ctx context.Context, id uuid.UUID, from, to SeriesStatus) (*Series, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE recurring_series
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+seriesColumns,
		id, string(to), string(from))
	s, err := scanSeries(row)
	if errors.Is(err, ErrSeriesNotFound) {
		return nil, t.missingOr(ctx, "recurring_series", id, ErrSeriesNotFound, ErrStatusConflict)
	}
	return s, err
}

func (t *pgTx) RecordSeriesOccurrence(ctx context.Context, id uuid.UUID, expectedCount int) (*Series, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE recurring_series
		SET occurrences_created = occurrences_created + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND occurrences_created = $2
		RETURNING `+seriesColumns,
		id, expectedCount)
	s, err := scanSeries(row)
	if errors.Is(err, ErrSeriesNotFound) {
		return nil, t.missingOr(ctx, "recurring_series", id, ErrSeriesNotFound, ErrStatusConflict)
	}
	return s, err
}

func (t *pgTx) AddSeriesSkipDate(ctx context.Context, id uuid.UUID, d civil.Date) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE recurring_series
		SET skip_dates = array_append(skip_dates, $2::date),
		    updated_at = now()
		WHERE id = $1
		  AND NOT ($2::date = ANY(skip_dates))
	`, id, dateParam(d))
	if err != nil {
		return fmt.Errorf("add skip date: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if err := t.missingOr(ctx, "recurring_series", id, ErrSeriesNotFound, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev events.Event) error {
	return events.Append(ctx, t.q, ev)
}
