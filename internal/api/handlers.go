package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

const (
	defaultSlotPage = 50
	maxSlotPage     = 500
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(w http.ResponseWriter, raw, code, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		beneficiaryID, ok := parseUUIDField(w, req.BeneficiaryID, "invalid_beneficiary_id", "beneficiary_id")
		if !ok {
			return
		}
		slotID, ok := parseUUIDField(w, req.SlotID, "invalid_slot_id", "slot_id")
		if !ok {
			return
		}

		b, err := ctrl.Book(r.Context(), scheduling.BookRequest{
			BeneficiaryID:   beneficiaryID,
			SlotID:          slotID,
			AppointmentType: req.AppointmentType,
			Telemedicine:    req.Telemedicine,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBookingResponse(b, nil))
	}
}

func getBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_booking_id")
		if !ok {
			return
		}
		b, history, err := ctrl.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, history))
	}
}

func rescheduleBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_booking_id")
		if !ok {
			return
		}
		var req RescheduleBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		newSlotID, ok := parseUUIDField(w, req.NewSlotID, "invalid_slot_id", "new_slot_id")
		if !ok {
			return
		}
		var actorID uuid.UUID
		if req.ActorID != "" {
			if actorID, ok = parseUUIDField(w, req.ActorID, "invalid_actor_id", "actor_id"); !ok {
				return
			}
		}

		b, err := ctrl.Reschedule(r.Context(), scheduling.RescheduleRequest{
			BookingID: id,
			NewSlotID: newSlotID,
			Reason:    req.Reason,
			Actor:     scheduling.Actor{ID: actorID, IsProvider: req.ActorIsProvider},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
	}
}

func cancelBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_booking_id")
		if !ok {
			return
		}
		var req CancelBookingRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		b, err := ctrl.Cancel(r.Context(), scheduling.CancelRequest{
			BookingID:  id,
			Reason:     req.Reason,
			ByProvider: req.ByProvider,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
	}
}

func startBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_booking_id")
		if !ok {
			return
		}
		b, err := ctrl.Start(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
	}
}

func completeBookingHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_booking_id")
		if !ok {
			return
		}
		b, err := ctrl.Complete(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
	}
}

func getSlotHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "invalid_slot_id")
		if !ok {
			return
		}
		s, err := ctrl.Store().GetSlot(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(*s))
	}
}

// listSlotsHandler serves GET /slots?provider_id=&from=&to=&appointment_type=&telemedicine=&available=&limit=
func listSlotsHandler(ctrl *scheduling.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter scheduling.SlotFilter

		if v := q.Get("provider_id"); v != "" {
			id, ok := parseUUIDField(w, v, "invalid_provider_id", "provider_id")
			if !ok {
				return
			}
			filter.ProviderID = &id
		}
		for _, p := range []struct {
			key string
			dst *civil.Date
		}{{"from", &filter.FromDate}, {"to", &filter.ToDate}} {
			if v := q.Get(p.key); v != "" {
				d, err := civil.ParseDate(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_date", p.key+" must be YYYY-MM-DD")
					return
				}
				*p.dst = d
			}
		}
		filter.AppointmentType = q.Get("appointment_type")
		filter.Telemedicine = q.Get("telemedicine") == "true"
		filter.OnlyAvailable = q.Get("available") != "false"

		limit := defaultSlotPage
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = min(n, maxSlotPage)
		}
		filter.Limit = limit

		out := make([]SlotResponse, 0, limit)
		for s, err := range ctrl.Slots().FindCandidates(r.Context(), ctrl.Store(), filter) {
			if err != nil {
				writeDomainError(w, err)
				return
			}
			out = append(out, toSlotResponse(s))
			if len(out) == limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
