package api

import (
	"encoding/json"
	"errors"
	"net/http"

	redisclient "github.com/hackgods/telemedicine-scheduling/internal/redis"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError turns a scheduling error into a reason code and status.
// Business rejections carry their own code; anything else is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		writeError(w, http.StatusConflict, "busy", "another worker holds this resource, please retry shortly")
		return
	}

	code := scheduling.ReasonCode(err)
	switch code {
	case "booking_not_found", "slot_not_found", "waitlist_entry_not_found", "series_not_found":
		writeError(w, http.StatusNotFound, code, err.Error())
	case "invalid_request":
		writeError(w, http.StatusBadRequest, code, err.Error())
	case "deadline_passed", "reschedule_limit_exceeded", "series_exhausted":
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case "internal_error":
		writeError(w, http.StatusInternalServerError, code, "internal error")
	default:
		// slot_full, slot_unavailable*, reschedule_slot_unavailable, invalid_transition
		writeError(w, http.StatusConflict, code, err.Error())
	}
}
