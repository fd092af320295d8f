package scheduling

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
)

// MemoryStore is an in-process Store. Units of work are serialised behind a
// single mutex and applied copy-on-write, so a failed unit leaves no trace.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clock.Clock
	state *memState
}

type memState struct {
	slots    map[uuid.UUID]Slot
	bookings map[uuid.UUID]Booking
	history  []RescheduleEntry
	waitlist map[uuid.UUID]WaitlistEntry
	series   map[uuid.UUID]Series
	events   []events.Event
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		clock: clk,
		state: &memState{
			slots:    map[uuid.UUID]Slot{},
			bookings: map[uuid.UUID]Booking{},
			waitlist: map[uuid.UUID]WaitlistEntry{},
			series:   map[uuid.UUID]Series{},
		},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		slots:    maps.Clone(s.slots),
		bookings: maps.Clone(s.bookings),
		history:  slices.Clone(s.history),
		waitlist: maps.Clone(s.waitlist),
		series:   maps.Clone(s.series),
		events:   slices.Clone(s.events),
	}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{memReader{work}, m.clock}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Events returns every event appended so far.
func (m *MemoryStore) Events() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.state.events)
}

// AddSlot inserts a slot directly; slot creation belongs to provider tooling.
func (m *MemoryStore) AddSlot(slot Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	m.state.slots[slot.ID] = slot
}

// DeleteSlot removes a slot as provider tooling might, ignoring its bookings.
func (m *MemoryStore) DeleteSlot(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.slots, id)
}

func (m *MemoryStore) reader() memReader {
	return memReader{m.state}
}

func (m *MemoryStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetSlot(ctx, id)
}

func (m *MemoryStore) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListSlots(ctx, f)
}

func (m *MemoryStore) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetBooking(ctx, id)
}

func (m *MemoryStore) ListRescheduleHistory(ctx context.Context, bookingID uuid.UUID) ([]RescheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListRescheduleHistory(ctx, bookingID)
}

func (m *MemoryStore) ListSeriesBookings(ctx context.Context, seriesID uuid.UUID) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListSeriesBookings(ctx, seriesID)
}

func (m *MemoryStore) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetWaitlistEntry(ctx, id)
}

func (m *MemoryStore) ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListWaitlistEntries(ctx, f)
}

func (m *MemoryStore) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetSeries(ctx, id)
}

func (m *MemoryStore) ListSeries(ctx context.Context, status SeriesStatus) ([]Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListSeries(ctx, status)
}

type memReader struct {
	s *memState
}

func (r memReader) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	slot, ok := r.s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

func (r memReader) ListSlots(_ context.Context, f SlotFilter) ([]Slot, error) {
	var out []Slot
	for _, slot := range r.s.slots {
		if matchesFilter(slot, f) {
			out = append(out, slot)
		}
	}
	slices.SortFunc(out, func(a, b Slot) int {
		if c := a.StartAt.Compare(b.StartAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchesFilter(slot Slot, f SlotFilter) bool {
	if f.ProviderID != nil && slot.ProviderID != *f.ProviderID {
		return false
	}
	date := slot.LocalDate()
	if f.FromDate.IsValid() && date.Before(f.FromDate) {
		return false
	}
	if f.ToDate.IsValid() && date.After(f.ToDate) {
		return false
	}
	if !slot.Supports(f.AppointmentType) {
		return false
	}
	if f.Telemedicine && !slot.TelemedicineEnabled {
		return false
	}
	if f.OnlyAvailable && slot.Remaining() == 0 {
		return false
	}
	if !f.StartsAfter.IsZero() && !slot.StartAt.After(f.StartsAfter) {
		return false
	}
	if !f.BookableAt.IsZero() && f.BookableAt.After(slot.CancellationDeadline()) {
		return false
	}
	if f.After != nil {
		c := slot.StartAt.Compare(f.After.StartAt)
		if c < 0 || (c == 0 && bytes.Compare(slot.ID[:], f.After.ID[:]) <= 0) {
			return false
		}
	}
	return true
}

func (r memReader) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r memReader) ListRescheduleHistory(_ context.Context, bookingID uuid.UUID) ([]RescheduleEntry, error) {
	var out []RescheduleEntry
	for _, e := range r.s.history {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memReader) ListSeriesBookings(_ context.Context, seriesID uuid.UUID) ([]Booking, error) {
	var out []Booking
	for _, b := range r.s.bookings {
		if b.SeriesID != nil && *b.SeriesID == seriesID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b Booking) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
	return out, nil
}

func (r memReader) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	e, ok := r.s.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return &e, nil
}

func (r memReader) ListWaitlistEntries(_ context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	var out []WaitlistEntry
	for _, e := range r.s.waitlist {
		switch {
		case e.Status != f.Status:
		case !f.PriorityAt.IsZero() && e.Expired(f.PriorityAt):
		case !f.ExpiredAt.IsZero() && !e.Expired(f.ExpiredAt):
		default:
			out = append(out, e)
		}
	}
	if f.PriorityAt.IsZero() {
		slices.SortFunc(out, func(a, b WaitlistEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	} else {
		slices.SortFunc(out, func(a, b WaitlistEntry) int { return ComparePriority(a, b, f.PriorityAt) })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memReader) GetSeries(_ context.Context, id uuid.UUID) (*Series, error) {
	s, ok := r.s.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return &s, nil
}

func (r memReader) ListSeries(_ context.Context, status SeriesStatus) ([]Series, error) {
	var out []Series
	for _, s := range r.s.series {
		if s.Status == status {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Series) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

type memTx struct {
	memReader
	clock clock.Clock
}

func (t *memTx) now() time.Time { return t.clock.Now() }

func (t *memTx) InsertSlot(_ context.Context, slot *Slot) error {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	t.s.slots[slot.ID] = *slot
	return nil
}

func (t *memTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return t.GetSlot(ctx, id)
}

func (t *memTx) IncrementSlotCount(_ context.Context, id uuid.UUID) (int, error) {
	slot, ok := t.s.slots[id]
	if !ok {
		return 0, ErrSlotNotFound
	}
	if slot.BookedCount >= slot.MaxCapacity {
		return slot.BookedCount, ErrCapacityExhausted
	}
	slot.BookedCount++
	slot.UpdatedAt = t.now()
	t.s.slots[id] = slot
	return slot.BookedCount, nil
}

func (t *memTx) DecrementSlotCount(_ context.Context, id uuid.UUID) (int, error) {
	slot, ok := t.s.slots[id]
	if !ok {
		return 0, ErrSlotNotFound
	}
	if slot.BookedCount > 0 {
		slot.BookedCount--
		slot.UpdatedAt = t.now()
		t.s.slots[id] = slot
	}
	return slot.BookedCount, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *Booking) error {
	t.s.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus, reason string, byProvider bool) (*Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != from {
		return nil, ErrStatusConflict
	}
	b.Status = to
	if to == StatusCancelled {
		b.CancellationReason = reason
		b.CancelledByProvider = byProvider
	}
	b.UpdatedAt = t.now()
	t.s.bookings[id] = b
	return &b, nil
}

func (t *memTx) MoveBooking(_ context.Context, p MoveBookingParams) (*Booking, error) {
	b, ok := t.s.bookings[p.BookingID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != StatusScheduled || b.SlotID != p.FromSlotID || b.RescheduleCount != p.ExpectedCount {
		return nil, ErrStatusConflict
	}
	b.SlotID = p.ToSlotID
	b.ScheduledAt = p.ScheduledAt
	b.RescheduleCount++
	b.UpdatedAt = t.now()
	t.s.bookings[b.ID] = b
	return &b, nil
}

func (t *memTx) InsertRescheduleEntry(_ context.Context, e *RescheduleEntry) error {
	t.s.history = append(t.s.history, *e)
	return nil
}

func (t *memTx) InsertWaitlistEntry(_ context.Context, e *WaitlistEntry) error {
	t.s.waitlist[e.ID] = *e
	return nil
}

func (t *memTx) UpdateWaitlistStatus(_ context.Context, id uuid.UUID, from, to WaitlistStatus, bookingID *uuid.UUID, at time.Time) (*WaitlistEntry, error) {
	e, ok := t.s.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	if e.Status != from {
		return nil, ErrStatusConflict
	}
	e.Status = to
	if to == WaitlistMatched {
		e.MatchedBookingID = bookingID
		e.MatchedAt = &at
		e.NotificationAttempts++
	}
	e.UpdatedAt = at
	t.s.waitlist[id] = e
	return &e, nil
}

func (t *memTx) InsertSeries(_ context.Context, s *Series) error {
	t.s.series[s.ID] = *s
	return nil
}

func (t *memTx) UpdateSeriesStatus(_ context.Context, id uuid.UUID, from, to SeriesStatus) (*Series, error) {
	s, ok := t.s.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	if s.Status != from {
		return nil, ErrStatusConflict
	}
	s.Status = to
	s.UpdatedAt = t.now()
	t.s.series[id] = s
	return &s, nil
}

func (t *memTx) RecordSeriesOccurrence(_ context.Context, id uuid.UUID, expectedCount int) (*Series, error) {
	s, ok := t.s.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	if s.Status != SeriesActive || s.OccurrencesCreated != expectedCount {
		return nil, ErrStatusConflict
	}
	s.OccurrencesCreated++
	s.UpdatedAt = t.now()
	t.s.series[id] = s
	return &s, nil
}

func (t *memTx) AddSeriesSkipDate(_ context.Context, id uuid.UUID, d civil.Date) error {
	s, ok := t.s.series[id]
	if !ok {
		return ErrSeriesNotFound
	}
	if s.Skips(d) {
		return nil
	}
	s.SkipDates = append(slices.Clone(s.SkipDates), d)
	s.UpdatedAt = t.now()
	t.s.series[id] = s
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, ev events.Event) error {
	t.s.events = append(t.s.events, ev)
	return nil
}
