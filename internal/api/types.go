package api

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

type CreateBookingRequest struct {
	BeneficiaryID   string `json:"beneficiary_id"`
	SlotID          string `json:"slot_id"`
	AppointmentType string `json:"appointment_type"`
	Telemedicine    bool   `json:"telemedicine"`
}

type RescheduleBookingRequest struct {
	NewSlotID       string `json:"new_slot_id"`
	Reason          string `json:"reason"`
	ActorID         string `json:"actor_id"`
	ActorIsProvider bool   `json:"actor_is_provider"`
}

type CancelBookingRequest struct {
	Reason     string `json:"reason"`
	ByProvider bool   `json:"by_provider"`
}

type BookingResponse struct {
	ID                  uuid.UUID               `json:"id"`
	BeneficiaryID       uuid.UUID               `json:"beneficiary_id"`
	ProviderID          uuid.UUID               `json:"provider_id"`
	SlotID              uuid.UUID               `json:"slot_id"`
	AppointmentType     string                  `json:"appointment_type,omitempty"`
	Telemedicine        bool                    `json:"telemedicine"`
	Status              string                  `json:"status"`
	ScheduledAt         time.Time               `json:"scheduled_at"`
	RescheduleCount     int                     `json:"reschedule_count"`
	CancellationReason  string                  `json:"cancellation_reason,omitempty"`
	CancelledByProvider bool                    `json:"cancelled_by_provider,omitempty"`
	SeriesID            *uuid.UUID              `json:"series_id,omitempty"`
	WaitlistEntryID     *uuid.UUID              `json:"waitlist_entry_id,omitempty"`
	History             []RescheduleHistoryItem `json:"history,omitempty"`
}

type RescheduleHistoryItem struct {
	OldSlotID       uuid.UUID `json:"old_slot_id"`
	NewSlotID       uuid.UUID `json:"new_slot_id"`
	OldScheduledAt  time.Time `json:"old_scheduled_at"`
	NewScheduledAt  time.Time `json:"new_scheduled_at"`
	Reason          string    `json:"reason,omitempty"`
	ActorID         uuid.UUID `json:"actor_id"`
	ActorIsProvider bool      `json:"actor_is_provider"`
	RescheduleCount int       `json:"reschedule_count"`
	CreatedAt       time.Time `json:"created_at"`
}

func toBookingResponse(b *scheduling.Booking, history []scheduling.RescheduleEntry) BookingResponse {
	resp := BookingResponse{
		ID:                  b.ID,
		BeneficiaryID:       b.BeneficiaryID,
		ProviderID:          b.ProviderID,
		SlotID:              b.SlotID,
		AppointmentType:     b.AppointmentType,
		Telemedicine:        b.Telemedicine,
		Status:              string(b.Status),
		ScheduledAt:         b.ScheduledAt,
		RescheduleCount:     b.RescheduleCount,
		CancellationReason:  b.CancellationReason,
		CancelledByProvider: b.CancelledByProvider,
		SeriesID:            b.SeriesID,
		WaitlistEntryID:     b.WaitlistEntryID,
	}
	for _, h := range history {
		resp.History = append(resp.History, RescheduleHistoryItem{
			OldSlotID:       h.OldSlotID,
			NewSlotID:       h.NewSlotID,
			OldScheduledAt:  h.OldScheduledAt,
			NewScheduledAt:  h.NewScheduledAt,
			Reason:          h.Reason,
			ActorID:         h.ActorID,
			ActorIsProvider: h.ActorIsProvider,
			RescheduleCount: h.RescheduleCount,
			CreatedAt:       h.CreatedAt,
		})
	}
	return resp
}

type SlotResponse struct {
	ID                  uuid.UUID  `json:"id"`
	ProviderID          uuid.UUID  `json:"provider_id"`
	Date                civil.Date `json:"date"`
	StartTime           civil.Time `json:"start_time"`
	EndTime             civil.Time `json:"end_time"`
	StartAt             time.Time  `json:"start_at"`
	EndAt               time.Time  `json:"end_at"`
	Timezone            string     `json:"timezone"`
	MaxCapacity         int        `json:"max_capacity"`
	BookedCount         int        `json:"booked_count"`
	TelemedicineEnabled bool       `json:"telemedicine_enabled"`
	AppointmentTypes    []string   `json:"appointment_types,omitempty"`
	SeriesID            *uuid.UUID `json:"series_id,omitempty"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:                  s.ID,
		ProviderID:          s.ProviderID,
		Date:                s.LocalDate(),
		StartTime:           s.LocalStart(),
		EndTime:             civil.TimeOf(s.EndAt.In(s.Location())),
		StartAt:             s.StartAt,
		EndAt:               s.EndAt,
		Timezone:            s.Timezone,
		MaxCapacity:         s.MaxCapacity,
		BookedCount:         s.BookedCount,
		TelemedicineEnabled: s.TelemedicineEnabled,
		AppointmentTypes:    s.AppointmentTypes,
		SeriesID:            s.SeriesID,
	}
}

type TimeWindowDTO struct {
	Start civil.Time `json:"start"`
	End   civil.Time `json:"end"`
}

type CreateWaitlistRequest struct {
	BeneficiaryID       string          `json:"beneficiary_id"`
	AppointmentType     string          `json:"appointment_type"`
	Telemedicine        bool            `json:"telemedicine"`
	PreferredWindows    []TimeWindowDTO `json:"preferred_windows"`
	PreferredDays       []string        `json:"preferred_days"`
	EarliestDate        civil.Date      `json:"earliest_date"`
	LatestDate          civil.Date      `json:"latest_date"`
	PreferredProviderID string          `json:"preferred_provider_id"`
	AcceptsAnyProvider  bool            `json:"accepts_any_provider"`
	Urgency             string          `json:"urgency"`
	ExpiresAt           *time.Time      `json:"expires_at"`
}

type WaitlistResponse struct {
	ID                   uuid.UUID       `json:"id"`
	BeneficiaryID        uuid.UUID       `json:"beneficiary_id"`
	AppointmentType      string          `json:"appointment_type,omitempty"`
	Telemedicine         bool            `json:"telemedicine"`
	PreferredWindows     []TimeWindowDTO `json:"preferred_windows,omitempty"`
	PreferredDays        []string        `json:"preferred_days,omitempty"`
	EarliestDate         civil.Date      `json:"earliest_date"`
	LatestDate           civil.Date      `json:"latest_date"`
	PreferredProviderID  *uuid.UUID      `json:"preferred_provider_id,omitempty"`
	AcceptsAnyProvider   bool            `json:"accepts_any_provider"`
	Urgency              string          `json:"urgency"`
	Status               string          `json:"status"`
	ExpiresAt            time.Time       `json:"expires_at"`
	NotificationAttempts int             `json:"notification_attempts"`
	MatchedBookingID     *uuid.UUID      `json:"matched_booking_id,omitempty"`
	MatchedAt            *time.Time      `json:"matched_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

func toWaitlistResponse(e *scheduling.WaitlistEntry) WaitlistResponse {
	return WaitlistResponse{
		ID:                   e.ID,
		BeneficiaryID:        e.BeneficiaryID,
		AppointmentType:      e.AppointmentType,
		Telemedicine:         e.Telemedicine,
		PreferredWindows:     windowDTOs(e.PreferredWindows),
		PreferredDays:        dayNames(e.PreferredDays),
		EarliestDate:         e.EarliestDate,
		LatestDate:           e.LatestDate,
		PreferredProviderID:  e.PreferredProviderID,
		AcceptsAnyProvider:   e.AcceptsAnyProvider,
		Urgency:              string(e.Urgency),
		Status:               string(e.Status),
		ExpiresAt:            e.ExpiresAt,
		NotificationAttempts: e.NotificationAttempts,
		MatchedBookingID:     e.MatchedBookingID,
		MatchedAt:            e.MatchedAt,
		CreatedAt:            e.CreatedAt,
	}
}

type CreateSeriesRequest struct {
	BeneficiaryID   string         `json:"beneficiary_id"`
	ProviderID      string         `json:"provider_id"`
	AppointmentType string         `json:"appointment_type"`
	Telemedicine    bool           `json:"telemedicine"`
	Pattern         string         `json:"pattern"`
	Interval        int            `json:"interval"`
	PreferredDays   []string       `json:"preferred_days"`
	PreferredWindow *TimeWindowDTO `json:"preferred_window"`
	StartDate       civil.Date     `json:"start_date"`
	EndDate         *civil.Date    `json:"end_date"`
	MaxOccurrences  int            `json:"max_occurrences"`
	SkipDates       []civil.Date   `json:"skip_dates"`
}

type SkipDateRequest struct {
	Date civil.Date `json:"date"`
}

type SeriesResponse struct {
	ID                 uuid.UUID         `json:"id"`
	BeneficiaryID      uuid.UUID         `json:"beneficiary_id"`
	ProviderID         uuid.UUID         `json:"provider_id"`
	AppointmentType    string            `json:"appointment_type,omitempty"`
	Telemedicine       bool              `json:"telemedicine"`
	Pattern            string            `json:"pattern"`
	Interval           int               `json:"interval"`
	PreferredDays      []string          `json:"preferred_days,omitempty"`
	PreferredWindow    *TimeWindowDTO    `json:"preferred_window,omitempty"`
	StartDate          civil.Date        `json:"start_date"`
	EndDate            *civil.Date       `json:"end_date,omitempty"`
	MaxOccurrences     int               `json:"max_occurrences,omitempty"`
	OccurrencesCreated int               `json:"occurrences_created"`
	SkipDates          []civil.Date      `json:"skip_dates,omitempty"`
	Status             string            `json:"status"`
	Bookings           []BookingResponse `json:"bookings,omitempty"`
	BookingsCancelled  *int              `json:"bookings_cancelled,omitempty"`
}

func toSeriesResponse(s *scheduling.Series, bookings []scheduling.Booking) SeriesResponse {
	resp := SeriesResponse{
		ID:                 s.ID,
		BeneficiaryID:      s.BeneficiaryID,
		ProviderID:         s.ProviderID,
		AppointmentType:    s.AppointmentType,
		Telemedicine:       s.Telemedicine,
		Pattern:            string(s.Pattern),
		Interval:           s.Interval,
		PreferredDays:      dayNames(s.PreferredDays),
		StartDate:          s.StartDate,
		EndDate:            s.EndDate,
		MaxOccurrences:     s.MaxOccurrences,
		OccurrencesCreated: s.OccurrencesCreated,
		SkipDates:          s.SkipDates,
		Status:             string(s.Status),
	}
	if s.PreferredWindow != nil {
		resp.PreferredWindow = &TimeWindowDTO{Start: s.PreferredWindow.Start, End: s.PreferredWindow.End}
	}
	for i := range bookings {
		resp.Bookings = append(resp.Bookings, toBookingResponse(&bookings[i], nil))
	}
	return resp
}

type GenerateResponse struct {
	SeriesID uuid.UUID        `json:"series_id"`
	Outcome  string           `json:"outcome"`
	Date     *civil.Date      `json:"date,omitempty"`
	Booking  *BookingResponse `json:"booking,omitempty"`
}

func toGenerateResponse(res recurring.Result) GenerateResponse {
	resp := GenerateResponse{SeriesID: res.SeriesID, Outcome: string(res.Outcome)}
	if res.Date.IsValid() {
		d := res.Date
		resp.Date = &d
	}
	if res.Booking != nil {
		b := toBookingResponse(res.Booking, nil)
		resp.Booking = &b
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func windowDTOs(ws []scheduling.TimeWindow) []TimeWindowDTO {
	var out []TimeWindowDTO
	for _, w := range ws {
		out = append(out, TimeWindowDTO{Start: w.Start, End: w.End})
	}
	return out
}

func windowsFromDTO(ws []TimeWindowDTO) []scheduling.TimeWindow {
	var out []scheduling.TimeWindow
	for _, w := range ws {
		out = append(out, scheduling.TimeWindow{Start: w.Start, End: w.End})
	}
	return out
}

func dayNames(days []time.Weekday) []string {
	var out []string
	for _, d := range days {
		out = append(out, strings.ToLower(d.String()))
	}
	return out
}

func parseDays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(n, d.String()) || strings.EqualFold(n, d.String()[:3]) {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
	}
	return out, nil
}
