package reservation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/blocks"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const actor = "actor-1"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *Service
	mem      *storage.Memory
	settings *settings.Service
	clock    *clock
}

// newFixture runs on Tuesday 2026-10-13 08:00 UTC with London weekday defaults.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC))
}

func newFixtureAt(t *testing.T, now time.Time) *fixture {
	t.Helper()
	clk := &clock{t: now}
	mem := storage.NewMemory()
	st := settings.New(mem, settings.BuiltinDefaults(), clk.Now)
	return &fixture{
		svc:      New(mem, st, availability.NewDetector(clk.Now), clk.Now),
		mem:      mem,
		settings: st,
		clock:    clk,
	}
}

func mustDate(t *testing.T, s string) tzconv.Date {
	t.Helper()
	d, err := tzconv.ParseDate(s)
	require.NoError(t, err)
	return d
}

func mustClock(t *testing.T, s string) tzconv.Clock {
	t.Helper()
	c, err := tzconv.ParseClock(s)
	require.NoError(t, err)
	return c
}

func request(t *testing.T, date, at string) ReserveRequest {
	return ReserveRequest{
		ActorID:     actor,
		Date:        mustDate(t, date),
		Time:        mustClock(t, at),
		Participant: model.Participant{Name: "Ada Lovelace", Email: "ada@example.com"},
	}
}

func activeBookings(t *testing.T, mem *storage.Memory) []model.Booking {
	t.Helper()
	out, err := mem.ListBookings(context.Background(), actor,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		model.ActiveStatuses...)
	require.NoError(t, err)
	return out
}

func eventTypes(mem *storage.Memory) []string {
	var out []string
	for _, r := range mem.Events() {
		out = append(out, r.EventType)
	}
	return out
}

func TestReserve_CreatesPendingBooking(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Reserve(context.Background(), request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.BookingID)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.Equal(t, 30, res.Duration)
	assert.Equal(t, time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), res.ScheduledAt, "10:00 BST")
	assert.False(t, res.Replayed)

	got, err := f.svc.Get(context.Background(), actor, res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Participant.Name)
	assert.Equal(t, []string{outbox.BookingReserved}, eventTypes(f.mem))
}

func TestReserve_ConcurrentRequestsForOneSlot(t *testing.T) {
	f := newFixture(t)
	const callers = 16

	req := request(t, "2026-10-14", "14:00")
	var won, lost atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := f.svc.Reserve(context.Background(), req)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, model.ErrSlotAlreadyBooked):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(callers-1), lost.Load())
	assert.Len(t, activeBookings(t, f.mem), 1)
	assert.Len(t, f.mem.Events(), 1)
}

func TestReserve_ConcurrentOverlappingStarts(t *testing.T) {
	f := newFixture(t)

	starts := []string{"10:00", "10:30", "11:00"}
	var won atomic.Int32
	var g errgroup.Group
	for _, at := range starts {
		req := request(t, "2026-10-14", at)
		req.Duration = 60
		g.Go(func() error {
			_, err := f.svc.Reserve(context.Background(), req)
			if err == nil {
				won.Add(1)
				return nil
			}
			if errors.Is(err, model.ErrSlotAlreadyBooked) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	booked := activeBookings(t, f.mem)
	require.Len(t, booked, int(won.Load()))
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			a, b := booked[i], booked[j]
			assert.False(t, a.ScheduledAt.Before(b.EndsAt()) && b.ScheduledAt.Before(a.EndsAt()),
				"bookings %s and %s overlap", a.ScheduledAt, b.ScheduledAt)
		}
	}
}

func TestReserve_RejectsNonexistentLocalTime(t *testing.T) {
	f := newFixtureAt(t, time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	s := settings.BuiltinDefaults()
	s.ActorID = actor
	s.WorkingDays = []int{0}
	s.DailyStartTime = 0
	s.DailyEndTime = mustClock(t, "05:00")
	_, err := f.settings.Put(context.Background(), s)
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), request(t, "2026-03-29", "01:30"))
	require.Error(t, err)
	assert.Equal(t, model.ReasonInvalidLocalTime, model.ReasonOf(err))
	assert.Empty(t, activeBookings(t, f.mem))
	assert.Empty(t, f.mem.Events())
}

func TestReserve_SpringForwardGapWithDefaultSettings(t *testing.T) {
	f := newFixtureAt(t, time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))

	_, err := f.svc.Reserve(context.Background(), request(t, "2026-03-29", "01:30"))
	require.Error(t, err)
	assert.Equal(t, model.ReasonInvalidLocalTime, model.ReasonOf(err))
	assert.Empty(t, activeBookings(t, f.mem))
	assert.Empty(t, f.mem.Events())
}

func TestReserve_RejectionReasons(t *testing.T) {
	cases := []struct {
		name   string
		date   string
		at     string
		reason model.Reason
	}{
		{"saturday", "2026-10-17", "10:00", model.ReasonNotWorkingDay},
		{"before hours", "2026-10-14", "08:30", model.ReasonOutsideWorkingHours},
		{"runs past close", "2026-10-14", "16:45", model.ReasonOutsideWorkingHours},
		{"inside lead time", "2026-10-13", "09:15", model.ReasonPastTimeSlot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Reserve(context.Background(), request(t, tc.date, tc.at))
			require.Error(t, err)
			assert.Equal(t, tc.reason, model.ReasonOf(err))
			assert.Empty(t, f.mem.Events())
		})
	}
}

func TestReserve_CalendarConflict(t *testing.T) {
	f := newFixture(t)
	blk := blocks.New(f.mem, f.clock.Now)
	_, err := blk.Create(context.Background(), actor, "Team sync",
		time.Date(2026, 10, 14, 11, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), "meeting", "")
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), request(t, "2026-10-14", "12:30"))
	assert.Equal(t, model.ReasonCalendarConflict, model.ReasonOf(err))

	_, err = f.svc.Reserve(context.Background(), request(t, "2026-10-14", "13:00"))
	assert.NoError(t, err)
}

func TestReserve_ValidatesRequest(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ReserveRequest)
		reason model.Reason
	}{
		{"missing actor", func(r *ReserveRequest) { r.ActorID = "" }, model.ReasonInvalidRequest},
		{"missing date", func(r *ReserveRequest) { r.Date = tzconv.Date{} }, model.ReasonInvalidDate},
		{"missing name", func(r *ReserveRequest) { r.Participant.Name = "" }, model.ReasonInvalidRequest},
		{"bad email", func(r *ReserveRequest) { r.Participant.Email = "not-an-email" }, model.ReasonInvalidRequest},
		{"negative duration", func(r *ReserveRequest) { r.Duration = -30 }, model.ReasonInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := request(t, "2026-10-14", "10:00")
			tc.mutate(&req)
			_, err := f.svc.Reserve(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.reason, model.ReasonOf(err))
		})
	}
}

func TestReserve_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	req := request(t, "2026-10-14", "10:00")
	req.IdempotencyKey = "key-1"

	first, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.BookingID, second.BookingID)
	assert.True(t, second.Replayed)
	assert.Len(t, activeBookings(t, f.mem), 1)
	assert.Len(t, f.mem.Events(), 1)

	other := request(t, "2026-10-14", "11:00")
	other.IdempotencyKey = "key-1"
	_, err = f.svc.Reserve(context.Background(), other)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestReserve_ReplayTreatsOmittedDurationAsSessionLength(t *testing.T) {
	f := newFixture(t)
	req := request(t, "2026-10-14", "10:00")
	req.IdempotencyKey = "key-1"

	first, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)

	req.Duration = 30
	second, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.BookingID, second.BookingID)
	assert.True(t, second.Replayed)

	req.Duration = 60
	_, err = f.svc.Reserve(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Len(t, activeBookings(t, f.mem), 1)
}

func TestReserve_ConcurrentRetriesWithOneKey(t *testing.T) {
	f := newFixture(t)
	req := request(t, "2026-10-14", "10:00")
	req.IdempotencyKey = "retry-me"

	ids := make([]string, 8)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			res, err := f.svc.Reserve(context.Background(), req)
			ids[i] = res.BookingID
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, activeBookings(t, f.mem), 1)
}

func TestReserve_FailedAttemptDoesNotClaimKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reserve(context.Background(), request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)

	req := request(t, "2026-10-14", "10:00")
	req.IdempotencyKey = "key-2"
	_, err = f.svc.Reserve(context.Background(), req)
	require.ErrorIs(t, err, model.ErrSlotAlreadyBooked)

	req.Time = mustClock(t, "10:30")
	res, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err, "the failed attempt left the key free")
	assert.False(t, res.Replayed)

	req.Time = mustClock(t, "10:00")
	_, err = f.svc.Reserve(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "key now belongs to the 10:30 request")
}

func TestReserve_CancelledContextLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.Error(t, err)
	assert.Empty(t, activeBookings(t, f.mem))
	assert.Empty(t, f.mem.Events())
}

func TestCancel_FreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)

	b, err := f.svc.Cancel(ctx, actor, res.BookingID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, b.Status)
	assert.Equal(t, "changed plans", b.CancelReason)
	require.NotNil(t, b.CancelledAt)

	_, err = f.svc.Cancel(ctx, actor, res.BookingID, "again")
	require.NoError(t, err)

	again, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)
	assert.NotEqual(t, res.BookingID, again.BookingID)

	assert.Equal(t, []string{outbox.BookingReserved, outbox.BookingCancelled, outbox.BookingReserved}, eventTypes(f.mem))
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, actor, res.BookingID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "pending cannot complete")

	b, err := f.svc.Confirm(ctx, actor, res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedAt)

	b, err = f.svc.Complete(ctx, actor, res.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, b.Status)

	_, err = f.svc.Cancel(ctx, actor, res.BookingID, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "completed cannot be cancelled")

	_, err = f.svc.Confirm(ctx, actor, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Confirm(ctx, "actor-2", res.BookingID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Equal(t, []string{outbox.BookingReserved, outbox.BookingConfirmed, outbox.BookingCompleted}, eventTypes(f.mem))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)
	second, err := f.svc.Reserve(ctx, request(t, "2026-10-15", "10:00"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, actor, first.BookingID, "")
	require.NoError(t, err)

	got, err := f.svc.List(ctx, actor, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.BookingID, got[0].ID)
	assert.Equal(t, model.StatusCancelled, got[0].Status)
	assert.Equal(t, second.BookingID, got[1].ID)

	_, err = f.svc.List(ctx, actor, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "10:00"))
	require.NoError(t, err)
	confirmed, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "11:00"))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, actor, confirmed.BookingID)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	fresh, err := f.svc.Reserve(ctx, request(t, "2026-10-14", "12:00"))
	require.NoError(t, err)

	n, err := f.svc.ExpirePending(ctx, f.clock.Now().Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := f.svc.Get(ctx, actor, stale.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, b.Status)
	assert.Equal(t, ReasonPendingExpired, b.CancelReason)

	b, err = f.svc.Get(ctx, actor, confirmed.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	b, err = f.svc.Get(ctx, actor, fresh.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, b.Status)

	n, err = f.svc.ExpirePending(ctx, f.clock.Now().Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
