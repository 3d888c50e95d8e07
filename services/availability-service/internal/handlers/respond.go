package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotguard/libs/httpx"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

type errorResponse struct {
	Success        bool         `json:"success"`
	Error          model.Reason `json:"error"`
	ConflictReason model.Reason `json:"conflictReason,omitempty"`
	Message        string       `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a reason to the HTTP status callers act on: 409 means the slot is
// taken, 422 means the slot can never be booked as asked, 503 means try again.
func statusFor(reason model.Reason) int {
	switch reason {
	case model.ReasonSlotAlreadyBooked, model.ReasonCalendarConflict, model.ReasonMaxSessionsReached,
		model.ReasonInvalidTransition:
		return http.StatusConflict
	case model.ReasonNotWorkingDay, model.ReasonOutsideWorkingHours, model.ReasonPastTimeSlot,
		model.ReasonAdvanceBookingWindowExceeded, model.ReasonInvalidLocalTime:
		return http.StatusUnprocessableEntity
	case model.ReasonInvalidDate, model.ReasonInvalidRequest:
		return http.StatusBadRequest
	case model.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

// slotReason reports whether the reason describes the requested slot.
func slotReason(reason model.Reason) bool {
	switch reason {
	case model.ReasonInvalidLocalTime, model.ReasonNotWorkingDay, model.ReasonOutsideWorkingHours,
		model.ReasonPastTimeSlot, model.ReasonSlotAlreadyBooked, model.ReasonCalendarConflict,
		model.ReasonAdvanceBookingWindowExceeded, model.ReasonMaxSessionsReached:
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	reason := model.ReasonOf(err)
	resp := errorResponse{Error: reason}
	if slotReason(reason) {
		resp.ConflictReason = reason
	}
	if reason == model.ReasonStorageError {
		logger.Error("request failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()), "path", r.URL.Path)
		resp.Message = "storage unavailable, retry later"
	} else if e := (*model.Error)(nil); errors.As(err, &e) && e.Msg != "" {
		resp.Message = e.Msg
	}
	writeJSON(w, statusFor(reason), resp)
}

func badRequest(w http.ResponseWriter, reason model.Reason, msg string) {
	writeJSON(w, statusFor(reason), errorResponse{Error: reason, Message: msg})
}

// actorID reads the caller identity from X-Actor-Id, falling back to ?actor_id=.
func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(httpx.ActorHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("actor_id"))
	}
	if id == "" {
		badRequest(w, model.ReasonInvalidRequest, "actor id required")
		return "", false
	}
	return id, true
}

func parseDateParam(w http.ResponseWriter, raw string) (tzconv.Date, bool) {
	d, err := tzconv.ParseDate(raw)
	if err != nil {
		badRequest(w, model.ReasonInvalidDate, "date must be YYYY-MM-DD")
		return tzconv.Date{}, false
	}
	return d, true
}

// parseRange reads from and to as RFC3339 instants.
func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		badRequest(w, model.ReasonInvalidRequest, "from must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		badRequest(w, model.ReasonInvalidRequest, "to must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, model.ReasonInvalidRequest, "invalid json body")
		return false
	}
	return true
}
