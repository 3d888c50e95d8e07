// Package storage persists settings, calendar blocks, bookings and outbox events.
//
// Two implementations share the contract below: Postgres (pgx) for deployments and an
// in-memory store for local runs and tests. Both serialize reservations per actor and
// local day, and both refuse to commit two overlapping slot-holding bookings.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

// IdempotencyRecord ties a client-supplied key to the booking it produced.
// Fingerprint identifies the original request so a reused key can be told apart.
type IdempotencyRecord struct {
	ActorID     string
	Key         string
	BookingID   string
	Fingerprint string
}

type Reader interface {
	// GetSettings reports false when the actor has never stored settings.
	GetSettings(ctx context.Context, actorID string) (model.Settings, bool, error)
	// ListBookings returns bookings with ScheduledAt in [start, end). No statuses means any.
	ListBookings(ctx context.Context, actorID string, start, end time.Time, statuses ...model.BookingStatus) ([]model.Booking, error)
	// ListActiveBlocks returns active blocks overlapping [start, end).
	ListActiveBlocks(ctx context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error)
	GetBooking(ctx context.Context, actorID, id string) (model.Booking, error)
	// ListStalePending returns pending bookings created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error)
}

// Tx is a unit of work. Nothing it writes is visible to others before InTx returns nil.
type Tx interface {
	Reader
	// LockDay serializes reservations for one actor and local date until the Tx ends.
	LockDay(ctx context.Context, actorID string, date tzconv.Date) error
	// LookupIdempotency locks the key until the Tx ends and returns the stored record, if any.
	LookupIdempotency(ctx context.Context, actorID, key string) (IdempotencyRecord, bool, error)
	SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error
	// InsertBooking fails with model.ErrSlotAlreadyBooked when a slot-holding booking overlaps.
	InsertBooking(ctx context.Context, b model.Booking) error
	GetBookingForUpdate(ctx context.Context, actorID, id string) (model.Booking, error)
	UpdateBooking(ctx context.Context, b model.Booking) error
	InsertBlock(ctx context.Context, b model.CalendarBlock) error
	// DeactivateBlock reports false when the block was already inactive.
	DeactivateBlock(ctx context.Context, actorID, id string, at time.Time) (model.CalendarBlock, bool, error)
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	Reader
	PutSettings(ctx context.Context, s model.Settings) error
	// InTx runs fn in a transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

var errDuplicateID = errors.New("duplicate id")

// dayLockKey is the single key both stores lock on for one actor's local day.
func dayLockKey(actorID string, date tzconv.Date) string {
	return actorID + "|" + date.String()
}

// classify passes reason-coded errors through and marks everything else as a storage failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	return model.Wrap(model.ReasonStorageError, fmt.Errorf("%s: %w", op, err))
}
