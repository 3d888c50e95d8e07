package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

type AvailabilityHandler struct {
	settings *settings.Service
	detector *availability.Detector
	loader   availability.Loader
	logger   *slog.Logger
}

func NewAvailabilityHandler(settingsSvc *settings.Service, detector *availability.Detector, loader availability.Loader, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{settings: settingsSvc, detector: detector, loader: loader, logger: logger}
}

func (h *AvailabilityHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/availability/check", h.Check)
}

type slotsSummary struct {
	AvailableCount int    `json:"availableCount"`
	TotalCount     int    `json:"totalCount"`
	Date           string `json:"date"`
}

type slotsResponse struct {
	Slots   []model.TimeSlot `json:"slots"`
	Summary slotsSummary     `json:"summary"`
}

type checkResponse struct {
	Available      bool         `json:"available"`
	ConflictReason model.Reason `json:"conflictReason,omitempty"`
	StartTime      string       `json:"startTime,omitempty"`
	EndTime        string       `json:"endTime,omitempty"`
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	date, ok := parseDateParam(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	st, err := h.settings.Get(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listing, err := h.detector.ListSlots(r.Context(), h.loader, st, date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		Slots: listing.Slots,
		Summary: slotsSummary{
			AvailableCount: listing.AvailableCount,
			TotalCount:     listing.TotalCount,
			Date:           listing.Date.String(),
		},
	})
}

// Check answers for one start time without reserving it.
func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	date, ok := parseDateParam(w, q.Get("date"))
	if !ok {
		return
	}
	clock, err := tzconv.ParseClock(q.Get("time"))
	if err != nil {
		badRequest(w, model.ReasonInvalidRequest, "time must be HH:MM")
		return
	}
	duration := 0
	if raw := q.Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration < 0 {
			badRequest(w, model.ReasonInvalidRequest, "duration must be a positive number of minutes")
			return
		}
	}

	st, err := h.settings.Get(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	v, err := h.detector.CheckAvailability(r.Context(), h.loader, st, date, clock, duration)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := checkResponse{Available: v.Available, ConflictReason: v.Reason}
	if !v.Start.IsZero() {
		resp.StartTime = v.Start.UTC().Format(time.RFC3339)
		resp.EndTime = v.End.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
