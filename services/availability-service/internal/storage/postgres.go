package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotguard/libs/db"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Postgres struct {
	pgReader
	pool   *db.Pool
	outbox *outbox.Repository
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pgReader: pgReader{q: pool}, pool: pool, outbox: outboxRepo}
}

func (p *Postgres) PutSettings(ctx context.Context, s model.Settings) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO availability_settings
			(actor_id, timezone, working_days, daily_start_minute, daily_end_minute, session_duration,
			 buffer_minutes, max_sessions_per_day, advance_booking_days, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (actor_id)
		DO UPDATE SET timezone = EXCLUDED.timezone,
		              working_days = EXCLUDED.working_days,
		              daily_start_minute = EXCLUDED.daily_start_minute,
		              daily_end_minute = EXCLUDED.daily_end_minute,
		              session_duration = EXCLUDED.session_duration,
		              buffer_minutes = EXCLUDED.buffer_minutes,
		              max_sessions_per_day = EXCLUDED.max_sessions_per_day,
		              advance_booking_days = EXCLUDED.advance_booking_days,
		              is_active = EXCLUDED.is_active,
		              updated_at = EXCLUDED.updated_at
	`, s.ActorID, s.Timezone, s.WorkingDays, int(s.DailyStartTime), int(s.DailyEndTime), s.SessionDuration,
		s.BufferMinutes, s.MaxSessionsPerDay, s.AdvanceBookingDays, s.IsActive, s.UpdatedAt)
	return mapPGError("put settings", err)
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return mapPGError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx}, tx: tx, outbox: p.outbox}); err != nil {
		return classify("tx", err)
	}
	return mapPGError("commit", tx.Commit(ctx))
}

// Claim runs fn over a locked batch of unpublished outbox rows and marks them published
// in the same transaction. Concurrent publishers skip each other's rows.
func (p *Postgres) Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []outbox.Record) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.outbox.FetchUnpublished(ctx, tx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}
	if err := fn(ctx, records); err != nil {
		return err
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if err := p.outbox.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgReader struct {
	q querier
}

func (r pgReader) GetSettings(ctx context.Context, actorID string) (model.Settings, bool, error) {
	var s model.Settings
	var start, end int
	err := r.q.QueryRow(ctx, `
		SELECT actor_id, timezone, working_days, daily_start_minute, daily_end_minute, session_duration,
			buffer_minutes, max_sessions_per_day, advance_booking_days, is_active, updated_at
		FROM availability_settings
		WHERE actor_id = $1
	`, actorID).Scan(
		&s.ActorID,
		&s.Timezone,
		&s.WorkingDays,
		&start,
		&end,
		&s.SessionDuration,
		&s.BufferMinutes,
		&s.MaxSessionsPerDay,
		&s.AdvanceBookingDays,
		&s.IsActive,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Settings{}, false, nil
	}
	if err != nil {
		return model.Settings{}, false, mapPGError("get settings", err)
	}
	s.DailyStartTime = tzconv.Clock(start)
	s.DailyEndTime = tzconv.Clock(end)
	return s, true, nil
}

type pgTx struct {
	pgReader
	tx     pgx.Tx
	outbox *outbox.Repository
}

// LockDay takes a transaction-scoped advisory lock, released by commit or rollback.
func (t *pgTx) LockDay(ctx context.Context, actorID string, date tzconv.Date) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "day|"+dayLockKey(actorID, date))
	return mapPGError("lock day", err)
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return mapPGError("append event", t.outbox.Insert(ctx, t.tx, evt))
}

// mapPGError turns constraint violations into domain errors and wraps everything else.
func mapPGError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) {
		return model.ErrSlotAlreadyBooked
	}
	if IsNotFound(err) {
		return model.ErrNotFound
	}
	return classify(op, err)
}

// IsConflict reports an exclusion-constraint violation: two slot-holding bookings overlap.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func scanRows[T any](rows pgx.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func statusStrings(statuses []model.BookingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
