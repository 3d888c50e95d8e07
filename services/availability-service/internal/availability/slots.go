package availability

import (
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open intervals: [a,b) and [c,d) overlap iff a < d && c < b,
// so a session ending exactly when another begins is not a conflict.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// GenerateSlots returns the local start times start, start+interval, ... for which a
// session of interval minutes still ends no later than end.
func GenerateSlots(start, end tzconv.Clock, intervalMinutes int) []tzconv.Clock {
	if intervalMinutes <= 0 || end <= start {
		return nil
	}
	slots := make([]tzconv.Clock, 0, int(end-start)/intervalMinutes)
	for c := start; c.Add(intervalMinutes) <= end; c = c.Add(intervalMinutes) {
		slots = append(slots, c)
	}
	return slots
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
