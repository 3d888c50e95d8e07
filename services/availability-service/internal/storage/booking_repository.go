package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
)

const bookingColumns = `id, actor_id, scheduled_at, duration_minutes, status,
	participant_name, participant_email, participant_phone, COALESCE(idempotency_key, ''),
	created_at, confirmed_at, cancelled_at, COALESCE(cancel_reason, '')`

func scanBooking(row scanner) (model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.ActorID,
		&b.ScheduledAt,
		&b.Duration,
		&status,
		&b.Participant.Name,
		&b.Participant.Email,
		&b.Participant.Phone,
		&b.IdempotencyKey,
		&b.CreatedAt,
		&b.ConfirmedAt,
		&b.CancelledAt,
		&b.CancelReason,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.ScheduledAt = b.ScheduledAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (r pgReader) ListBookings(ctx context.Context, actorID string, start, end time.Time, statuses ...model.BookingStatus) ([]model.Booking, error) {
	var filter []string
	if len(statuses) > 0 {
		filter = statusStrings(statuses)
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE actor_id = $1
			AND scheduled_at >= $2
			AND scheduled_at < $3
			AND ($4::text[] IS NULL OR status = ANY($4))
		ORDER BY scheduled_at ASC
	`, actorID, start, end, filter)
	if err != nil {
		return nil, mapPGError("list bookings", err)
	}
	out, err := scanRows(rows, scanBooking)
	return out, mapPGError("list bookings", err)
}

func (r pgReader) GetBooking(ctx context.Context, actorID, id string) (model.Booking, error) {
	b, err := scanBooking(r.q.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND actor_id = $2
	`, id, actorID))
	return b, mapPGError("get booking", err)
}

func (r pgReader) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, mapPGError("list stale pending", err)
	}
	out, err := scanRows(rows, scanBooking)
	return out, mapPGError("list stale pending", err)
}

// InsertBooking relies on the bookings_no_overlap exclusion constraint as the last line
// of defence; a violation surfaces as model.ErrSlotAlreadyBooked.
func (t *pgTx) InsertBooking(ctx context.Context, b model.Booking) error {
	var key *string
	if b.IdempotencyKey != "" {
		key = &b.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, actor_id, scheduled_at, ends_at, duration_minutes, status,
			 participant_name, participant_email, participant_phone, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID, b.ActorID, b.ScheduledAt, b.EndsAt(), b.Duration, string(b.Status),
		b.Participant.Name, b.Participant.Email, b.Participant.Phone, key, b.CreatedAt)
	return mapPGError("insert booking", err)
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, actorID, id string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND actor_id = $2
		FOR UPDATE
	`, id, actorID))
	return b, mapPGError("get booking for update", err)
}

func (t *pgTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	var reason *string
	if b.CancelReason != "" {
		reason = &b.CancelReason
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3,
			confirmed_at = $4,
			cancelled_at = $5,
			cancel_reason = $6
		WHERE id = $1 AND actor_id = $2
	`, b.ID, b.ActorID, string(b.Status), b.ConfirmedAt, b.CancelledAt, reason)
	if err != nil {
		return mapPGError("update booking", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// LookupIdempotency makes sure a row for the key exists and locks it, so a concurrent
// request with the same key waits for this transaction. The placeholder row disappears
// with a rollback.
func (t *pgTx) LookupIdempotency(ctx context.Context, actorID, key string) (IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, actorID, key)
	if err == nil && rec.BookingID != "" {
		return rec, true, nil
	}
	if err != nil && !IsNotFound(err) {
		return IdempotencyRecord{}, false, mapPGError("lookup idempotency", err)
	}
	if err == nil {
		return IdempotencyRecord{}, false, nil
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (actor_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (actor_id, idempotency_key) DO NOTHING
	`, actorID, key)
	if err != nil {
		return IdempotencyRecord{}, false, mapPGError("lock idempotency key", err)
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, actorID, key)
	if err != nil {
		return IdempotencyRecord{}, false, mapPGError("lock idempotency key", err)
	}
	return rec, rec.BookingID != "", nil
}

func (t *pgTx) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (actor_id, idempotency_key, booking_id, request_fingerprint)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor_id, idempotency_key)
		DO UPDATE SET booking_id = EXCLUDED.booking_id,
		              request_fingerprint = EXCLUDED.request_fingerprint,
		              updated_at = now()
	`, rec.ActorID, rec.Key, rec.BookingID, rec.Fingerprint)
	return mapPGError("save idempotency", err)
}

func (t *pgTx) selectIdempotencyForUpdate(ctx context.Context, actorID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT actor_id,
			idempotency_key,
			COALESCE(booking_id, ''),
			COALESCE(request_fingerprint, '')
		FROM booking_idempotency_keys
		WHERE actor_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, actorID, key).Scan(
		&rec.ActorID,
		&rec.Key,
		&rec.BookingID,
		&rec.Fingerprint,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	return rec, nil
}
