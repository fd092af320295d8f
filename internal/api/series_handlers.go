package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

func createSeriesHandler(g *recurring.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSeriesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		beneficiaryID, ok := parseUUIDField(w, req.BeneficiaryID, "invalid_beneficiary_id", "beneficiary_id")
		if !ok {
			return
		}
		providerID, ok := parseUUIDField(w, req.ProviderID, "invalid_provider_id", "provider_id")
		if !ok {
			return
		}
		days, err := parseDays(req.PreferredDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preferred_days", err.Error())
			return
		}
		var window *scheduling.TimeWindow
		if req.PreferredWindow != nil {
			window = &scheduling.TimeWindow{Start: req.PreferredWindow.Start, End: req.PreferredWindow.End}
		}

		s, err := g.CreateSeries(r.Context(), recurring.CreateSeriesRequest{
			BeneficiaryID:   beneficiaryID,
			ProviderID:      providerID,
			AppointmentType: req.AppointmentType,
			Telemedicine:    req.Telemedicine,
			Pattern:         scheduling.Pattern(req.Pattern),
			Interval:        req.Interval,
			PreferredDays:   days,
			PreferredWindow: window,
			StartDate:       req.StartDate,
			EndDate:         req.EndDate,
			MaxOccurrences:  req.MaxOccurrences,
			SkipDates:       req.SkipDates,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSeriesResponse(s, nil))
	}
}

func getSeriesHandler(g *recurring.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_series_id")
		if !ok {
			return
		}
		s, bookings, err := g.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSeriesResponse(s, bookings))
	}
}

// seriesStatusHandler adapts pause and resume, which share a signature.
func seriesStatusHandler(op func(context.Context, uuid.UUID) (*scheduling.Series, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_series_id")
		if !ok {
			return
		}
		s, err := op(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSeriesResponse(s, nil))
	}
}

func cancelSeriesHandler(g *recurring.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_series_id")
		if !ok {
			return
		}
		s, cancelled, err := g.Cancel(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := toSeriesResponse(s, nil)
		resp.BookingsCancelled = &cancelled
		writeJSON(w, http.StatusOK, resp)
	}
}

func addSkipDateHandler(g *recurring.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_series_id")
		if !ok {
			return
		}
		var req SkipDateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Date.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		s, err := g.AddSkipDate(r.Context(), id, req.Date)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSeriesResponse(s, nil))
	}
}

func generateNextHandler(g *recurring.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_series_id")
		if !ok {
			return
		}
		res, err := g.GenerateNext(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		status := http.StatusOK
		if res.Outcome == recurring.OutcomeBooked {
			status = http.StatusCreated
		}
		writeJSON(w, status, toGenerateResponse(res))
	}
}
