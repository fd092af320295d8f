package scheduling

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusScheduled  BookingStatus = "scheduled"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Slot is a provider's bookable window. StartAt/EndAt are instants; the
// local date and wall-clock times are derived through Timezone.
type Slot struct {
	ID                        uuid.UUID
	ProviderID                uuid.UUID
	StartAt                   time.Time
	EndAt                     time.Time
	Timezone                  string
	MaxCapacity               int
	BookedCount               int
	TelemedicineEnabled       bool
	AppointmentTypes          []string
	CancellationDeadlineHours int
	RescheduleDeadlineHours   int
	SeriesID                  *uuid.UUID
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (s Slot) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Slot) LocalDate() civil.Date {
	return civil.DateOf(s.StartAt.In(s.Location()))
}

func (s Slot) LocalStart() civil.Time {
	return civil.TimeOf(s.StartAt.In(s.Location()))
}

// LocalEnd returns the end wall-clock time. A slot ending at local midnight
// reports 24:00 so window overlap stays correct.
func (s Slot) LocalEnd() civil.Time {
	end := s.EndAt.In(s.Location())
	if civil.DateOf(end).After(s.LocalDate()) {
		return civil.Time{Hour: 24}
	}
	return civil.TimeOf(end)
}

func (s Slot) Weekday() time.Weekday {
	return s.StartAt.In(s.Location()).Weekday()
}

func (s Slot) Remaining() int {
	if s.BookedCount >= s.MaxCapacity {
		return 0
	}
	return s.MaxCapacity - s.BookedCount
}

// Supports reports whether the slot accepts the appointment type. An empty
// type set accepts everything.
func (s Slot) Supports(appointmentType string) bool {
	if len(s.AppointmentTypes) == 0 || appointmentType == "" {
		return true
	}
	return slices.Contains(s.AppointmentTypes, appointmentType)
}

func (s Slot) CancellationDeadline() time.Time {
	return s.StartAt.Add(-time.Duration(s.CancellationDeadlineHours) * time.Hour)
}

func (s Slot) RescheduleDeadline() time.Time {
	return s.StartAt.Add(-time.Duration(s.RescheduleDeadlineHours) * time.Hour)
}

// Booking is one beneficiary's claim on a slot seat.
type Booking struct {
	ID                  uuid.UUID
	BeneficiaryID       uuid.UUID
	ProviderID          uuid.UUID
	SlotID              uuid.UUID
	AppointmentType     string
	Telemedicine        bool
	Status              BookingStatus
	ScheduledAt         time.Time
	RescheduleCount     int
	CancellationReason  string
	CancelledByProvider bool
	SeriesID            *uuid.UUID
	WaitlistEntryID     *uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HoldsSeat reports whether the booking counts against its slot's
// booked_count. Only cancellation gives the seat back.
func (b Booking) HoldsSeat() bool {
	return b.Status != StatusCancelled
}

// RescheduleEntry is the append-only audit record of one reschedule.
type RescheduleEntry struct {
	ID              uuid.UUID
	BookingID       uuid.UUID
	OldSlotID       uuid.UUID
	NewSlotID       uuid.UUID
	OldScheduledAt  time.Time
	NewScheduledAt  time.Time
	Reason          string
	ActorID         uuid.UUID
	ActorIsProvider bool
	RescheduleCount int
	CreatedAt       time.Time
}

type Actor struct {
	ID         uuid.UUID
	IsProvider bool
}

type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyRoutine   Urgency = "routine"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyEmergency, UrgencyUrgent, UrgencyRoutine:
		return true
	}
	return false
}

// Base is the tier's starting priority score. The gaps keep every tier ahead
// of the next for the first 100 days of waiting.
func (u Urgency) Base() int {
	switch u {
	case UrgencyEmergency:
		return 0
	case UrgencyUrgent:
		return 100
	default:
		return 200
	}
}

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistMatched   WaitlistStatus = "matched"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// TimeWindow is a half-open wall-clock range [Start, End).
type TimeWindow struct {
	Start civil.Time
	End   civil.Time
}

func (w TimeWindow) Valid() bool {
	return w.Start.IsValid() && nanoOfDay(w.End) > nanoOfDay(w.Start)
}

// Overlaps reports whether [w.Start, w.End) intersects [start, end).
func (w TimeWindow) Overlaps(start, end civil.Time) bool {
	return nanoOfDay(w.Start) < nanoOfDay(end) && nanoOfDay(start) < nanoOfDay(w.End)
}

// Contains reports whether [start, end) lies entirely inside the window.
func (w TimeWindow) Contains(start, end civil.Time) bool {
	return nanoOfDay(w.Start) <= nanoOfDay(start) && nanoOfDay(end) <= nanoOfDay(w.End)
}

func nanoOfDay(t civil.Time) int64 {
	return int64(t.Hour)*int64(time.Hour) + int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) + int64(t.Nanosecond)
}

type WaitlistEntry struct {
	ID                   uuid.UUID
	BeneficiaryID        uuid.UUID
	AppointmentType      string
	Telemedicine         bool
	PreferredWindows     []TimeWindow
	PreferredDays        []time.Weekday
	EarliestDate         civil.Date
	LatestDate           civil.Date
	PreferredProviderID  *uuid.UUID
	AcceptsAnyProvider   bool
	Urgency              Urgency
	Status               WaitlistStatus
	ExpiresAt            time.Time
	NotificationAttempts int
	MatchedBookingID     *uuid.UUID
	MatchedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Expired reports whether the entry can no longer be matched at now.
func (e WaitlistEntry) Expired(now time.Time) bool {
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return true
	}
	return civil.DateOf(now).After(e.LatestDate)
}

// PriorityScore is the urgency base less whole days waiting. Lower goes
// first.
func (e WaitlistEntry) PriorityScore(now time.Time) int {
	daysWaiting := max(int(now.Sub(e.CreatedAt)/(24*time.Hour)), 0)
	return e.Urgency.Base() - daysWaiting
}

// ComparePriority orders a before b by PriorityScore, older first on ties.
func ComparePriority(a, b WaitlistEntry, now time.Time) int {
	if d := a.PriorityScore(now) - b.PriorityScore(now); d != 0 {
		return d
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

type Pattern string

const (
	PatternWeekly    Pattern = "weekly"
	PatternBiweekly  Pattern = "biweekly"
	PatternMonthly   Pattern = "monthly"
	PatternQuarterly Pattern = "quarterly"
)

func (p Pattern) Valid() bool {
	switch p {
	case PatternWeekly, PatternBiweekly, PatternMonthly, PatternQuarterly:
		return true
	}
	return false
}

type SeriesStatus string

const (
	SeriesActive    SeriesStatus = "active"
	SeriesPaused    SeriesStatus = "paused"
	SeriesCancelled SeriesStatus = "cancelled"
)

// Series is a recurring-appointment template. MaxOccurrences of zero means
// unbounded; a nil EndDate means open-ended.
type Series struct {
	ID                 uuid.UUID
	BeneficiaryID      uuid.UUID
	ProviderID         uuid.UUID
	AppointmentType    string
	Telemedicine       bool
	Pattern            Pattern
	Interval           int
	PreferredDays      []time.Weekday
	PreferredWindow    *TimeWindow
	StartDate          civil.Date
	EndDate            *civil.Date
	MaxOccurrences     int
	OccurrencesCreated int
	SkipDates          []civil.Date
	Status             SeriesStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s Series) Skips(d civil.Date) bool {
	return slices.Contains(s.SkipDates, d)
}

// Exhausted reports whether the series can produce no further occurrence
// as of today.
func (s Series) Exhausted(today civil.Date) bool {
	if s.MaxOccurrences > 0 && s.OccurrencesCreated >= s.MaxOccurrences {
		return true
	}
	return s.EndDate != nil && s.EndDate.Before(today)
}
