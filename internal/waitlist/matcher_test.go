package waitlist

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

// Monday 2025-06-02 08:00 UTC.
var now = time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)

type env struct {
	clock   *clock.Fixed
	store   *scheduling.MemoryStore
	matcher *Matcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewFixed(now)
	store := scheduling.NewMemoryStore(clk)
	ctrl := scheduling.NewController(store, scheduling.NewSlotStore(clk, nil), clk, zerolog.Nop(), scheduling.ControllerConfig{})
	return &env{
		clock:   clk,
		store:   store,
		matcher: NewMatcher(ctrl, nil, zerolog.Nop(), Config{}),
	}
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func (e *env) addSlot(provider uuid.UUID, start time.Time, mutate ...func(*scheduling.Slot)) scheduling.Slot {
	s := scheduling.Slot{
		ID:                        uuid.New(),
		ProviderID:                provider,
		StartAt:                   start,
		EndAt:                     start.Add(30 * time.Minute),
		Timezone:                  "UTC",
		MaxCapacity:               1,
		TelemedicineEnabled:       true,
		CancellationDeadlineHours: 12,
		RescheduleDeadlineHours:   12,
	}
	for _, m := range mutate {
		m(&s)
	}
	e.store.AddSlot(s)
	return s
}

func (e *env) entry(t *testing.T, mutate ...func(*CreateEntryRequest)) *scheduling.WaitlistEntry {
	t.Helper()
	req := CreateEntryRequest{
		BeneficiaryID:      uuid.New(),
		AppointmentType:    "consultation",
		Telemedicine:       true,
		EarliestDate:       date(2025, 6, 3),
		LatestDate:         date(2025, 6, 20),
		AcceptsAnyProvider: true,
		Urgency:            scheduling.UrgencyRoutine,
	}
	for _, m := range mutate {
		m(&req)
	}
	got, err := e.matcher.CreateEntry(context.Background(), req)
	require.NoError(t, err)
	return got
}

func TestFindMatchingSlotsOnlyReturnsMatches(t *testing.T) {
	e := newEnv(t)
	faker := gofakeit.New(7)
	providers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for range 3000 {
		day := faker.IntRange(0, 30)
		hour := faker.IntRange(6, 20)
		start := time.Date(2025, time.June, 2+day, hour, 15*faker.IntRange(0, 3), 0, 0, time.UTC)
		e.addSlot(providers[faker.IntRange(0, 2)], start, func(s *scheduling.Slot) {
			s.TelemedicineEnabled = faker.Bool()
			if faker.Bool() {
				s.BookedCount = s.MaxCapacity
			}
		})
	}

	preferred := providers[1]
	entry := e.entry(t, func(r *CreateEntryRequest) {
		r.EarliestDate = date(2025, 6, 5)
		r.LatestDate = date(2025, 6, 19)
		r.PreferredDays = []time.Weekday{time.Tuesday, time.Thursday, time.Saturday}
		r.PreferredWindows = []scheduling.TimeWindow{
			{Start: civil.Time{Hour: 9}, End: civil.Time{Hour: 11}},
			{Start: civil.Time{Hour: 16, Minute: 30}, End: civil.Time{Hour: 18}},
		}
		r.PreferredProviderID = &preferred
		r.AcceptsAnyProvider = false
	})

	got, err := e.matcher.FindMatchingSlots(context.Background(), *entry, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	for i, s := range got {
		d := s.LocalDate()
		assert.False(t, d.Before(entry.EarliestDate) || d.After(entry.LatestDate), "slot %s outside range", s.ID)
		assert.Contains(t, entry.PreferredDays, s.Weekday())
		assert.Equal(t, preferred, s.ProviderID)
		assert.True(t, s.TelemedicineEnabled)
		assert.Positive(t, s.Remaining())

		startMin := s.StartAt.Hour()*60 + s.StartAt.Minute()
		endMin := startMin + 30
		inWindow := (startMin < 11*60 && endMin > 9*60) || (startMin < 18*60 && endMin > 16*60+30)
		assert.True(t, inWindow, "slot %s at %s outside windows", s.ID, s.StartAt)

		if i > 0 {
			assert.False(t, s.StartAt.Before(got[i-1].StartAt))
		}
	}

	all, err := e.store.ListSlots(context.Background(), scheduling.SlotFilter{})
	require.NoError(t, err)
	want := 0
	for _, s := range all {
		if Matches(*entry, s) && s.Remaining() > 0 && s.StartAt.After(now) && !now.After(s.CancellationDeadline()) {
			want++
		}
	}
	assert.Len(t, got, want)
}

func TestFindMatchingSlotsRespectsLimit(t *testing.T) {
	e := newEnv(t)
	for i := range 5 {
		e.addSlot(uuid.New(), time.Date(2025, time.June, 4, 9+i, 0, 0, 0, time.UTC))
	}
	entry := e.entry(t)

	got, err := e.matcher.FindMatchingSlots(context.Background(), *entry, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAttemptMatchBooksAndMarksEntry(t *testing.T) {
	e := newEnv(t)
	slot := e.addSlot(uuid.New(), time.Date(2025, time.June, 4, 10, 0, 0, 0, time.UTC))
	entry := e.entry(t)

	b, err := e.matcher.AttemptMatch(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, slot.ID, b.SlotID)
	require.NotNil(t, b.WaitlistEntryID)
	assert.Equal(t, entry.ID, *b.WaitlistEntryID)

	got, err := e.matcher.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.WaitlistMatched, got.Status)
	require.NotNil(t, got.MatchedBookingID)
	assert.Equal(t, b.ID, *got.MatchedBookingID)
	assert.Equal(t, 1, got.NotificationAttempts)

	evs := e.store.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.WaitlistMatched, evs[0].Type)
	assert.Equal(t, now.Add(DefaultResponseWindow), evs[0].Data["respond_by"])
	assert.Equal(t, events.BookingCreated, evs[1].Type)

	again, err := e.matcher.AttemptMatch(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAttemptMatchSkipsSlotsPastDeadline(t *testing.T) {
	e := newEnv(t)
	provider := uuid.New()
	for h := 1; h <= 5; h++ {
		e.addSlot(provider, now.Add(time.Duration(h)*time.Hour))
	}
	open := e.addSlot(provider, time.Date(2025, time.June, 5, 10, 0, 0, 0, time.UTC))
	entry := e.entry(t, func(r *CreateEntryRequest) { r.EarliestDate = date(2025, 6, 2) })

	found, err := e.matcher.FindMatchingSlots(context.Background(), *entry, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, open.ID, found[0].ID)

	b, err := e.matcher.AttemptMatch(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, open.ID, b.SlotID)
}

func TestAttemptMatchIgnoresExpiredAndCancelled(t *testing.T) {
	e := newEnv(t)
	e.addSlot(uuid.New(), time.Date(2025, time.June, 4, 10, 0, 0, 0, time.UTC))
	e.addSlot(uuid.New(), time.Date(2025, time.June, 4, 11, 0, 0, 0, time.UTC))

	expiring := e.entry(t, func(r *CreateEntryRequest) { r.ExpiresAt = now.Add(time.Hour) })
	cancelled := e.entry(t)
	_, err := e.matcher.CancelEntry(context.Background(), cancelled.ID)
	require.NoError(t, err)
	e.clock.Advance(2 * time.Hour)

	for _, id := range []uuid.UUID{expiring.ID, cancelled.ID} {
		b, err := e.matcher.AttemptMatch(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, b)
	}
	assert.Empty(t, e.store.Events())
}

func TestAttemptMatchWithNoSlotLeavesEntryWaiting(t *testing.T) {
	e := newEnv(t)
	entry := e.entry(t)

	b, err := e.matcher.AttemptMatch(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Nil(t, b)

	got, err := e.matcher.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.WaitlistWaiting, got.Status)
}

func TestCancelEntryTwice(t *testing.T) {
	e := newEnv(t)
	entry := e.entry(t)

	got, err := e.matcher.CancelEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.WaitlistCancelled, got.Status)

	_, err = e.matcher.CancelEntry(context.Background(), entry.ID)
	assert.ErrorIs(t, err, scheduling.ErrInvalidTransition)
}

func TestCreateEntry(t *testing.T) {
	e := newEnv(t)

	entry := e.entry(t, func(r *CreateEntryRequest) { r.Urgency = "" })
	assert.Equal(t, scheduling.UrgencyRoutine, entry.Urgency)
	assert.Equal(t, time.Date(2025, time.June, 21, 0, 0, 0, 0, time.UTC), entry.ExpiresAt)

	long := e.entry(t, func(r *CreateEntryRequest) { r.LatestDate = date(2025, 12, 31) })
	assert.Equal(t, now.Add(DefaultEntryTTL), long.ExpiresAt)

	_, err := e.matcher.CreateEntry(context.Background(), CreateEntryRequest{
		BeneficiaryID: uuid.New(),
		Urgency:       scheduling.UrgencyUrgent,
		EarliestDate:  date(2025, 6, 10),
		LatestDate:    date(2025, 6, 5),
	})
	assert.ErrorIs(t, err, scheduling.ErrInvalidRequest)

	_, err = e.matcher.CreateEntry(context.Background(), CreateEntryRequest{
		BeneficiaryID: uuid.New(),
		EarliestDate:  date(2025, 6, 3),
		LatestDate:    date(2025, 6, 5),
	})
	assert.ErrorIs(t, err, scheduling.ErrInvalidRequest, "provider preference required")
}

func TestPriorityScore(t *testing.T) {
	routine := scheduling.WaitlistEntry{Urgency: scheduling.UrgencyRoutine, CreatedAt: now.AddDate(0, 0, -10)}
	urgent := scheduling.WaitlistEntry{Urgency: scheduling.UrgencyUrgent, CreatedAt: now.AddDate(0, 0, -1)}
	emergency := scheduling.WaitlistEntry{Urgency: scheduling.UrgencyEmergency, CreatedAt: now.Add(-time.Hour)}

	assert.Equal(t, 190, PriorityScore(routine, now))
	assert.Equal(t, 99, PriorityScore(urgent, now))
	assert.Equal(t, 0, PriorityScore(emergency, now))

	ordered := Prioritize([]scheduling.WaitlistEntry{routine, urgent, emergency}, now)
	assert.Equal(t, []scheduling.Urgency{scheduling.UrgencyEmergency, scheduling.UrgencyUrgent, scheduling.UrgencyRoutine},
		[]scheduling.Urgency{ordered[0].Urgency, ordered[1].Urgency, ordered[2].Urgency})
}
