// Package tzconv converts between an actor's civil wall-clock time and UTC instants.
//
// Two rules are fixed here and relied on by every caller:
//   - a wall-clock time skipped by a spring-forward transition does not exist and is
//     rejected with ErrNonexistentLocalTime, never shifted;
//   - a wall-clock time repeated by a fall-back transition resolves to the earlier
//     of its two UTC instants.
package tzconv

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNonexistentLocalTime = errors.New("local time does not exist in time zone")
	ErrUnknownTimeZone      = errors.New("unknown time zone")
)

var locations sync.Map // name -> *time.Location

// Converter resolves civil date/time values in one fixed time zone.
type Converter struct {
	loc *time.Location
}

// New returns a Converter for an IANA zone name such as "Europe/London".
func New(name string) (*Converter, error) {
	if cached, ok := locations.Load(name); ok {
		return &Converter{loc: cached.(*time.Location)}, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownTimeZone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeZone, name)
	}
	locations.Store(name, loc)
	return &Converter{loc: loc}, nil
}

// NewWithLocation wraps an already loaded location.
func NewWithLocation(loc *time.Location) *Converter {
	return &Converter{loc: loc}
}

func (c *Converter) Location() *time.Location { return c.loc }

// ToUTC returns the UTC instant of the wall-clock time clock on date.
func (c *Converter) ToUTC(date Date, clock Clock) (time.Time, error) {
	candidates := c.resolve(date, clock)
	if len(candidates) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s %s %s", ErrNonexistentLocalTime, date, clock, c.loc)
	}
	return candidates[0], nil
}

// IsValidLocalInstant reports whether clock exists on date in the converter's zone.
func (c *Converter) IsValidLocalInstant(date Date, clock Clock) bool {
	return c.CheckLocalInstant(date, clock) == nil
}

// CheckLocalInstant is IsValidLocalInstant with the specific rejection reason.
func (c *Converter) CheckLocalInstant(date Date, clock Clock) error {
	_, err := c.ToUTC(date, clock)
	return err
}

// IsAmbiguous reports whether clock occurs twice on date (fall-back overlap).
func (c *Converter) IsAmbiguous(date Date, clock Clock) bool {
	return len(c.resolve(date, clock)) > 1
}

// DayBoundsUTC returns [start, end) where start is the first instant of the local day
// and end is the first instant of the following local day.
func (c *Converter) DayBoundsUTC(date Date) (time.Time, time.Time) {
	return c.startOfDay(date), c.startOfDay(date.AddDays(1))
}

// ToLocal returns the civil date and wall-clock minute of t in the converter's zone.
func (c *Converter) ToLocal(t time.Time) (Date, Clock) {
	local := t.In(c.loc)
	return DateOf(local), ClockOf(local)
}

func (c *Converter) startOfDay(date Date) time.Time {
	if t, err := c.ToUTC(date, 0); err == nil {
		return t
	}
	// Midnight was skipped: the day begins at the transition itself, which is the
	// naive wall time shifted by the offset in force just before the gap.
	naive := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, time.UTC)
	before := offsetAt(naive.Add(-26*time.Hour), c.loc)
	return naive.Add(-time.Duration(before) * time.Second)
}

// resolve returns every UTC instant whose wall clock in c.loc equals date+clock,
// sorted ascending. Zero results means the wall time falls in a gap.
func (c *Converter) resolve(date Date, clock Clock) []time.Time {
	naive := time.Date(date.Year, date.Month, date.Day, 0, int(clock), 0, 0, time.UTC)
	wantDate, wantClock := DateOf(naive), ClockOf(naive)

	seen := map[int]struct{}{}
	var out []time.Time
	for _, shift := range []time.Duration{-26 * time.Hour, 0, 26 * time.Hour} {
		off := offsetAt(naive.Add(shift), c.loc)
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}

		candidate := naive.Add(-time.Duration(off) * time.Second)
		local := candidate.In(c.loc)
		if DateOf(local) == wantDate && ClockOf(local) == wantClock {
			out = append(out, candidate.UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func offsetAt(t time.Time, loc *time.Location) int {
	_, off := t.In(loc).Zone()
	return off
}
