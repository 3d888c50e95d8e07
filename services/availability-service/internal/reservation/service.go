// Package reservation turns an availability check into a booking. The check and the
// insert run in one storage transaction that holds the actor's day lock, so two callers
// can never both win the same slot.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxIdempotencyKeyLen = 200

	ReasonPendingExpired = "pending expired"
)

// SettingsSource resolves an actor's settings through the given reader.
type SettingsSource interface {
	Lookup(ctx context.Context, r settings.Reader, actorID string) (model.Settings, error)
}

type ReserveRequest struct {
	ActorID string
	Date    tzconv.Date
	Time    tzconv.Clock
	// Duration in minutes; zero means the actor's session length.
	Duration       int
	Participant    model.Participant
	IdempotencyKey string
}

// fingerprint identifies the request by the slot it resolves to, so an omitted duration
// and an explicit session length are the same request.
func (r ReserveRequest) fingerprint(duration int) string {
	return fmt.Sprintf("%s|%s|%d", r.Date, r.Time, duration)
}

type Result struct {
	BookingID   string
	ScheduledAt time.Time
	Duration    int
	Status      model.BookingStatus
	CreatedAt   time.Time
	// Replayed is set when the result comes from an earlier call with the same key.
	Replayed bool
}

func resultOf(b model.Booking) Result {
	return Result{
		BookingID:   b.ID,
		ScheduledAt: b.ScheduledAt,
		Duration:    b.Duration,
		Status:      b.Status,
		CreatedAt:   b.CreatedAt,
	}
}

type Service struct {
	store    storage.Store
	settings SettingsSource
	detector *availability.Detector
	now      func() time.Time
	tracer   trace.Tracer
}

func New(store storage.Store, settings SettingsSource, detector *availability.Detector, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		settings: settings,
		detector: detector,
		now:      now,
		tracer:   otel.Tracer("reservation"),
	}
}

var validate = validator.New()

func (s *Service) validateRequest(req *ReserveRequest) error {
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.ActorID == "" {
		return model.Fail(model.ReasonInvalidRequest, "actor id is required")
	}
	if req.Date.IsZero() {
		return model.Fail(model.ReasonInvalidDate, "date is required")
	}
	if req.Time < 0 || req.Time >= tzconv.EndOfDay {
		return model.Fail(model.ReasonInvalidLocalTime, "time must be within the day")
	}
	if req.Duration < 0 {
		return model.Fail(model.ReasonInvalidRequest, "duration must not be negative")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return model.Fail(model.ReasonInvalidRequest, "idempotency key is too long")
	}
	if err := validate.Struct(req.Participant); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.Fail(model.ReasonInvalidRequest, fmt.Sprintf("participant.%s failed %q", verrs[0].Field(), verrs[0].Tag()))
		}
		return model.Wrap(model.ReasonInvalidRequest, err)
	}
	return nil
}

// Reserve books the slot if, and only if, it is still available when the day lock is
// held. A lost race surfaces as model.ErrSlotAlreadyBooked and leaves nothing behind.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.reserve",
		trace.WithAttributes(
			attribute.String("actor.id", req.ActorID),
			attribute.String("slot.date", req.Date.String()),
			attribute.String("slot.time", req.Time.String()),
		),
	)
	defer span.End()

	res, err := s.reserve(ctx, req)
	if err != nil {
		span.SetAttributes(attribute.String("reservation.reason", string(model.ReasonOf(err))))
		if model.ReasonOf(err) == model.ReasonStorageError {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reservation failed")
		}
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("booking.id", res.BookingID),
		attribute.Bool("reservation.replayed", res.Replayed),
	)
	return res, nil
}

func (s *Service) reserve(ctx context.Context, req ReserveRequest) (Result, error) {
	if err := s.validateRequest(&req); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		st, err := s.settings.Lookup(ctx, tx, req.ActorID)
		if err != nil {
			return err
		}
		conv, err := tzconv.New(st.Timezone)
		if err != nil {
			return model.Wrap(model.ReasonInvalidRequest, err)
		}
		// A wall-clock time the zone skips is wrong whatever the actor's hours are.
		if err := conv.CheckLocalInstant(req.Date, req.Time); err != nil {
			return model.Fail(model.ReasonInvalidLocalTime, err.Error())
		}
		duration := req.Duration
		if duration == 0 {
			duration = st.SessionDuration
		}

		if req.IdempotencyKey != "" {
			rec, ok, err := tx.LookupIdempotency(ctx, req.ActorID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if rec.Fingerprint != req.fingerprint(duration) {
					return model.Fail(model.ReasonInvalidRequest, "idempotency key was used for a different request")
				}
				prior, err := tx.GetBooking(ctx, req.ActorID, rec.BookingID)
				if err != nil {
					return err
				}
				res = resultOf(prior)
				res.Replayed = true
				return nil
			}
		}

		if err := tx.LockDay(ctx, req.ActorID, req.Date); err != nil {
			return err
		}

		// Rules that need no stored state decide first; the day is read only when they pass.
		if pre := s.detector.Evaluate(conv, st, req.Date, req.Time, duration, availability.Snapshot{}); !pre.Available {
			return model.Fail(pre.Reason, "")
		}
		snap, err := availability.LoadSnapshot(ctx, tx, req.ActorID, conv, req.Date)
		if err != nil {
			return err
		}
		v := s.detector.Evaluate(conv, st, req.Date, req.Time, duration, snap)
		if !v.Available {
			return model.Fail(v.Reason, "")
		}

		b := model.Booking{
			ID:             uuid.NewString(),
			ActorID:        req.ActorID,
			ScheduledAt:    v.Start,
			Duration:       duration,
			Status:         model.StatusPending,
			Participant:    req.Participant,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if err := appendBookingEvent(ctx, tx, outbox.BookingReserved, b); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotency(ctx, storage.IdempotencyRecord{
				ActorID:     req.ActorID,
				Key:         req.IdempotencyKey,
				BookingID:   b.ID,
				Fingerprint: req.fingerprint(duration),
			}); err != nil {
				return err
			}
		}
		res = resultOf(b)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, actorID, id string) (model.Booking, error) {
	return s.store.GetBooking(ctx, actorID, id)
}

// List returns every booking, in any status, starting in [from, to).
func (s *Service) List(ctx context.Context, actorID string, from, to time.Time) ([]model.Booking, error) {
	if !to.After(from) {
		return nil, model.Fail(model.ReasonInvalidRequest, "to must be after from")
	}
	return s.store.ListBookings(ctx, actorID, from.UTC(), to.UTC())
}

func (s *Service) Confirm(ctx context.Context, actorID, id string) (model.Booking, error) {
	b, _, err := s.transition(ctx, actorID, id, model.StatusConfirmed, "", "")
	return b, err
}

// Cancel frees the slot. Cancelling a cancelled booking succeeds without a new event.
func (s *Service) Cancel(ctx context.Context, actorID, id, reason string) (model.Booking, error) {
	b, _, err := s.transition(ctx, actorID, id, model.StatusCancelled, strings.TrimSpace(reason), "")
	return b, err
}

func (s *Service) Complete(ctx context.Context, actorID, id string) (model.Booking, error) {
	b, _, err := s.transition(ctx, actorID, id, model.StatusCompleted, "", "")
	return b, err
}

// ExpirePending cancels up to limit bookings still pending that were created before the
// cutoff. A booking confirmed in the meantime is left alone.
func (s *Service) ExpirePending(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.store.ListStalePending(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range stale {
		_, changed, err := s.transition(ctx, b.ActorID, b.ID, model.StatusCancelled, ReasonPendingExpired, model.StatusPending)
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// transition moves a booking to status to. Moving into the current status is a no-op.
// When from is set, a booking in any other status is skipped.
func (s *Service) transition(ctx context.Context, actorID, id string, to model.BookingStatus, reason string, from model.BookingStatus) (model.Booking, bool, error) {
	var out model.Booking
	var changed bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, actorID, id)
		if err != nil {
			return err
		}
		out = b
		if b.Status == to || (from != "" && b.Status != from) {
			return nil
		}
		if !b.Status.CanTransition(to) {
			return model.Fail(model.ReasonInvalidTransition, fmt.Sprintf("%s -> %s", b.Status, to))
		}

		now := s.now().UTC()
		b.Status = to
		var eventType string
		switch to {
		case model.StatusConfirmed:
			b.ConfirmedAt = &now
			eventType = outbox.BookingConfirmed
		case model.StatusCancelled:
			b.CancelledAt = &now
			b.CancelReason = reason
			eventType = outbox.BookingCancelled
		case model.StatusCompleted:
			eventType = outbox.BookingCompleted
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := appendBookingEvent(ctx, tx, eventType, b); err != nil {
			return err
		}
		out = b
		changed = true
		return nil
	})
	if err != nil {
		return model.Booking{}, false, err
	}
	return out, changed, nil
}

func appendBookingEvent(ctx context.Context, tx storage.Tx, eventType string, b model.Booking) error {
	body := map[string]any{
		"booking_id":   b.ID,
		"actor_id":     b.ActorID,
		"status":       string(b.Status),
		"scheduled_at": b.ScheduledAt.UTC().Format(time.RFC3339),
		"duration":     b.Duration,
	}
	if eventType == outbox.BookingReserved {
		body["participant_name"] = b.Participant.Name
		body["participant_email"] = b.Participant.Email
	}
	if b.CancelReason != "" {
		body["cancel_reason"] = b.CancelReason
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, outbox.Event{
		AggregateType: outbox.AggregateBooking,
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}
