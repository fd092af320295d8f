package scheduling

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
)

var baseTime = time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	clock      *clock.Fixed
	store      *MemoryStore
	slots      *SlotStore
	controller *Controller
	provider   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(baseTime)
	store := NewMemoryStore(clk)
	slots := NewSlotStore(clk, nil)
	return &fixture{
		clock:      clk,
		store:      store,
		slots:      slots,
		controller: NewController(store, slots, clk, zerolog.Nop(), ControllerConfig{}),
		provider:   uuid.New(),
	}
}

// addSlot creates a one-hour telemedicine slot starting `in` from now.
func (f *fixture) addSlot(in time.Duration, capacity int, mutate ...func(*Slot)) Slot {
	start := f.clock.Now().Add(in)
	s := Slot{
		ID:                        uuid.New(),
		ProviderID:                f.provider,
		StartAt:                   start,
		EndAt:                     start.Add(time.Hour),
		Timezone:                  "UTC",
		MaxCapacity:               capacity,
		TelemedicineEnabled:       true,
		AppointmentTypes:          []string{"consultation", "follow_up"},
		CancellationDeadlineHours: 24,
		RescheduleDeadlineHours:   12,
	}
	for _, m := range mutate {
		m(&s)
	}
	f.store.AddSlot(s)
	return s
}

func (f *fixture) book(t *testing.T, slotID uuid.UUID) *Booking {
	t.Helper()
	b, err := f.controller.Book(context.Background(), BookRequest{
		BeneficiaryID:   uuid.New(),
		SlotID:          slotID,
		AppointmentType: "consultation",
		Telemedicine:    true,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) bookedCount(t *testing.T, slotID uuid.UUID) int {
	t.Helper()
	s, err := f.store.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	return s.BookedCount
}

func civilDate(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}
