package availability

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinLeadTime is the minimum gap between now and the start of a bookable slot.
const MinLeadTime = 30 * time.Minute

// Loader reads the committed (or transaction-local) state a check needs.
type Loader interface {
	ListBookings(ctx context.Context, actorID string, start, end time.Time, statuses ...model.BookingStatus) ([]model.Booking, error)
	ListActiveBlocks(ctx context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error)
}

// Snapshot is everything on one local day that can make a slot unavailable.
type Snapshot struct {
	Bookings []model.Booking
	Blocks   []model.CalendarBlock
}

// LoadSnapshot reads bookings whose start falls inside the local day and active blocks
// overlapping it. Day bounds come from the actor's zone, never from the UTC calendar.
func LoadSnapshot(ctx context.Context, l Loader, actorID string, conv *tzconv.Converter, date tzconv.Date) (Snapshot, error) {
	start, end := conv.DayBoundsUTC(date)
	bookings, err := l.ListBookings(ctx, actorID, start, end, model.ActiveStatuses...)
	if err != nil {
		return Snapshot{}, err
	}
	blocks, err := l.ListActiveBlocks(ctx, actorID, start, end)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Bookings: bookings, Blocks: blocks}, nil
}

type Verdict struct {
	Available bool
	Reason    model.Reason
	// Start and End are the UTC interval of the session; zero when the local time
	// could not be resolved.
	Start time.Time
	End   time.Time
}

type Detector struct {
	now    func() time.Time
	tracer trace.Tracer
}

func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{now: now, tracer: otel.Tracer("availability")}
}

// Evaluate runs every rule against an already loaded snapshot. The first failing rule
// decides the reason.
func (d *Detector) Evaluate(conv *tzconv.Converter, s model.Settings, date tzconv.Date, clock tzconv.Clock, duration int, snap Snapshot) Verdict {
	if duration <= 0 {
		duration = s.SessionDuration
	}
	if !s.IsActive || !s.WorksOn(date.Weekday()) {
		return Verdict{Reason: model.ReasonNotWorkingDay}
	}
	if clock < s.DailyStartTime || clock >= s.DailyEndTime || clock.Add(duration) > s.DailyEndTime {
		return Verdict{Reason: model.ReasonOutsideWorkingHours}
	}

	start, err := conv.ToUTC(date, clock)
	if err != nil {
		return Verdict{Reason: model.ReasonInvalidLocalTime}
	}
	v := Verdict{Start: start, End: start.Add(time.Duration(duration) * time.Minute)}

	now := d.now().UTC()
	if start.Before(now.Add(MinLeadTime)) {
		v.Reason = model.ReasonPastTimeSlot
		return v
	}
	if s.AdvanceBookingDays > 0 && start.After(now.AddDate(0, 0, s.AdvanceBookingDays)) {
		v.Reason = model.ReasonAdvanceBookingWindowExceeded
		return v
	}

	// The buffer trails every session, so two sessions must be at least buffer apart.
	buffer := s.Buffer()
	candidate := Interval{Start: v.Start, End: v.End.Add(buffer)}
	held := 0
	var busy []Interval
	for _, b := range snap.Bookings {
		if !b.Status.HoldsSlot() {
			continue
		}
		held++
		busy = append(busy, Interval{Start: b.ScheduledAt, End: b.EndsAt().Add(buffer)})
	}
	if overlapsAny(candidate, busy) {
		v.Reason = model.ReasonSlotAlreadyBooked
		return v
	}

	session := Interval{Start: v.Start, End: v.End}
	for _, blk := range snap.Blocks {
		if !blk.IsActive || !blk.BlockType.ReducesAvailability() {
			continue
		}
		if session.Overlaps(Interval{Start: blk.StartTime, End: blk.EndTime}) {
			v.Reason = model.ReasonCalendarConflict
			return v
		}
	}

	if s.MaxSessionsPerDay > 0 && held >= s.MaxSessionsPerDay {
		v.Reason = model.ReasonMaxSessionsReached
		return v
	}

	v.Available = true
	return v
}

// CheckAvailability resolves the settings' zone, loads the day and evaluates one slot.
// Rules that need no stored data run first so a rejected request costs no round-trip.
func (d *Detector) CheckAvailability(ctx context.Context, l Loader, s model.Settings, date tzconv.Date, clock tzconv.Clock, duration int) (Verdict, error) {
	ctx, span := d.tracer.Start(ctx, "availability.check",
		trace.WithAttributes(
			attribute.String("actor.id", s.ActorID),
			attribute.String("slot.date", date.String()),
			attribute.String("slot.time", clock.String()),
		),
	)
	defer span.End()

	conv, err := tzconv.New(s.Timezone)
	if err != nil {
		return Verdict{}, model.Wrap(model.ReasonInvalidRequest, err)
	}
	if err := conv.CheckLocalInstant(date, clock); err != nil {
		span.SetAttributes(attribute.String("slot.reason", string(model.ReasonInvalidLocalTime)))
		return Verdict{Reason: model.ReasonInvalidLocalTime}, nil
	}

	if pre := d.Evaluate(conv, s, date, clock, duration, Snapshot{}); !pre.Available {
		span.SetAttributes(attribute.String("slot.reason", string(pre.Reason)))
		return pre, nil
	}

	snap, err := LoadSnapshot(ctx, l, s.ActorID, conv, date)
	if err != nil {
		span.RecordError(err)
		return Verdict{}, err
	}
	v := d.Evaluate(conv, s, date, clock, duration, snap)
	if !v.Available {
		span.SetAttributes(attribute.String("slot.reason", string(v.Reason)))
	}
	return v, nil
}

type Listing struct {
	Date           tzconv.Date
	Slots          []model.TimeSlot
	AvailableCount int
	TotalCount     int
}

// ListSlots generates the day's candidate starts at session granularity and annotates
// each one. The day is loaded once for all slots.
func (d *Detector) ListSlots(ctx context.Context, l Loader, s model.Settings, date tzconv.Date) (Listing, error) {
	ctx, span := d.tracer.Start(ctx, "availability.list_slots",
		trace.WithAttributes(
			attribute.String("actor.id", s.ActorID),
			attribute.String("slot.date", date.String()),
		),
	)
	defer span.End()

	conv, err := tzconv.New(s.Timezone)
	if err != nil {
		return Listing{}, model.Wrap(model.ReasonInvalidRequest, err)
	}

	var snap Snapshot
	if s.IsActive && s.WorksOn(date.Weekday()) {
		snap, err = LoadSnapshot(ctx, l, s.ActorID, conv, date)
		if err != nil {
			span.RecordError(err)
			return Listing{}, err
		}
	}

	starts := GenerateSlots(s.DailyStartTime, s.DailyEndTime, s.SessionDuration)
	out := Listing{Date: date, Slots: make([]model.TimeSlot, 0, len(starts)), TotalCount: len(starts)}
	for _, c := range starts {
		v := d.Evaluate(conv, s, date, c, s.SessionDuration, snap)
		out.Slots = append(out.Slots, model.TimeSlot{
			Time:           c.String(),
			IsAvailable:    v.Available,
			ConflictReason: v.Reason,
		})
		if v.Available {
			out.AvailableCount++
		}
	}
	span.SetAttributes(attribute.Int("slots.available", out.AvailableCount))
	return out, nil
}
