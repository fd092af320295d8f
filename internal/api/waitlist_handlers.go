package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
	"github.com/hackgods/telemedicine-scheduling/internal/waitlist"
)

func createWaitlistHandler(m *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateWaitlistRequest
		if !decodeBody(w, r, &req) {
			return
		}
		beneficiaryID, ok := parseUUIDField(w, req.BeneficiaryID, "invalid_beneficiary_id", "beneficiary_id")
		if !ok {
			return
		}
		var providerID *uuid.UUID
		if req.PreferredProviderID != "" {
			id, ok := parseUUIDField(w, req.PreferredProviderID, "invalid_provider_id", "preferred_provider_id")
			if !ok {
				return
			}
			providerID = &id
		}
		days, err := parseDays(req.PreferredDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preferred_days", err.Error())
			return
		}
		var expiresAt time.Time
		if req.ExpiresAt != nil {
			expiresAt = *req.ExpiresAt
		}

		e, err := m.CreateEntry(r.Context(), waitlist.CreateEntryRequest{
			BeneficiaryID:       beneficiaryID,
			AppointmentType:     req.AppointmentType,
			Telemedicine:        req.Telemedicine,
			PreferredWindows:    windowsFromDTO(req.PreferredWindows),
			PreferredDays:       days,
			EarliestDate:        req.EarliestDate,
			LatestDate:          req.LatestDate,
			PreferredProviderID: providerID,
			AcceptsAnyProvider:  req.AcceptsAnyProvider,
			Urgency:             scheduling.Urgency(req.Urgency),
			ExpiresAt:           expiresAt,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWaitlistResponse(e))
	}
}

func getWaitlistHandler(m *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_waitlist_entry_id")
		if !ok {
			return
		}
		e, err := m.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWaitlistResponse(e))
	}
}

func cancelWaitlistHandler(m *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_waitlist_entry_id")
		if !ok {
			return
		}
		e, err := m.CancelEntry(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWaitlistResponse(e))
	}
}

// waitlistMatchesHandler previews the slots an entry would accept without
// booking any of them.
func waitlistMatchesHandler(m *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_waitlist_entry_id")
		if !ok {
			return
		}
		limit := waitlist.DefaultCandidateLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = min(n, maxSlotPage)
		}

		e, err := m.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		slots, err := m.FindMatchingSlots(r.Context(), *e, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type MatchResponse struct {
	Matched bool             `json:"matched"`
	Entry   WaitlistResponse `json:"entry"`
	Booking *BookingResponse `json:"booking,omitempty"`
}

func attemptMatchHandler(m *waitlist.Matcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_waitlist_entry_id")
		if !ok {
			return
		}
		b, err := m.AttemptMatch(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		e, err := m.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := MatchResponse{Matched: b != nil, Entry: toWaitlistResponse(e)}
		if b != nil {
			br := toBookingResponse(b, nil)
			resp.Booking = &br
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
