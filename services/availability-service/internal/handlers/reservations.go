package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

type ReservationHandler struct {
	svc    *reservation.Service
	logger *slog.Logger
}

func NewReservationHandler(svc *reservation.Service, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, logger: logger}
}

func (h *ReservationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/reservations", h.Create)
	mux.HandleFunc("GET /api/v1/reservations", h.List)
	mux.HandleFunc("GET /api/v1/reservations/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/reservations/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/reservations/{id}/complete", h.Complete)
}

type createReservationRequest struct {
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Duration    int               `json:"duration"`
	Participant model.Participant `json:"participant"`
}

type createReservationResponse struct {
	Success     bool                `json:"success"`
	BookingID   string              `json:"bookingId"`
	ScheduledAt string              `json:"scheduledAt"`
	Duration    int                 `json:"duration"`
	Status      model.BookingStatus `json:"status"`
}

type cancelReservationRequest struct {
	Reason string `json:"reason"`
}

type listReservationsResponse struct {
	Bookings []model.Booking `json:"bookings"`
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req createReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, ok := parseDateParam(w, req.Date)
	if !ok {
		return
	}
	clock, err := tzconv.ParseClock(req.Time)
	if err != nil || clock >= tzconv.EndOfDay {
		badRequest(w, model.ReasonInvalidRequest, "time must be HH:MM")
		return
	}
	req.Participant.Name = strings.TrimSpace(req.Participant.Name)
	req.Participant.Email = strings.TrimSpace(req.Participant.Email)
	req.Participant.Phone = strings.TrimSpace(req.Participant.Phone)

	res, err := h.svc.Reserve(r.Context(), reservation.ReserveRequest{
		ActorID:        actor,
		Date:           date,
		Time:           clock,
		Duration:       req.Duration,
		Participant:    req.Participant,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	writeJSON(w, http.StatusCreated, createReservationResponse{
		Success:     true,
		BookingID:   res.BookingID,
		ScheduledAt: res.ScheduledAt.UTC().Format(time.RFC3339),
		Duration:    res.Duration,
		Status:      res.Status,
	})
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	bookings, err := h.svc.List(r.Context(), actor, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, listReservationsResponse{Bookings: bookings})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.svc.Confirm(r.Context(), actor, r.PathValue("id")))
}

func (h *ReservationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.svc.Complete(r.Context(), actor, r.PathValue("id")))
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req cancelReservationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	h.respond(w, r)(h.svc.Cancel(r.Context(), actor, r.PathValue("id"), req.Reason))
}

func (h *ReservationHandler) respond(w http.ResponseWriter, r *http.Request) func(model.Booking, error) {
	return func(b model.Booking, err error) {
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}
