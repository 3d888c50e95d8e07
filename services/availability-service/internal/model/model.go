package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

// Settings is the working-hours configuration of one scheduling actor.
// It is replaced wholesale; existing bookings are never re-validated against a newer version.
type Settings struct {
	ActorID            string       `json:"actorId" yaml:"-"`
	Timezone           string       `json:"timezone" yaml:"timezone" validate:"required,timezone"`
	WorkingDays        []int        `json:"workingDays" yaml:"working_days" validate:"dive,min=0,max=6"`
	DailyStartTime     tzconv.Clock `json:"dailyStartTime" yaml:"daily_start_time"`
	DailyEndTime       tzconv.Clock `json:"dailyEndTime" yaml:"daily_end_time"`
	SessionDuration    int          `json:"sessionDuration" yaml:"session_duration" validate:"gt=0,lte=1440"`
	BufferMinutes      int          `json:"bufferTimeBetweenSessions" yaml:"buffer_time_between_sessions" validate:"gte=0,lte=1440"`
	MaxSessionsPerDay  int          `json:"maxSessionsPerDay" yaml:"max_sessions_per_day" validate:"gte=0"`
	AdvanceBookingDays int          `json:"advanceBookingDays" yaml:"advance_booking_days" validate:"gte=0"`
	IsActive           bool         `json:"isActive" yaml:"is_active"`
	UpdatedAt          time.Time    `json:"updatedAt,omitempty" yaml:"-"`
}

func (s Settings) WorksOn(day time.Weekday) bool {
	for _, wd := range s.WorkingDays {
		if wd == int(day) {
			return true
		}
	}
	return false
}

func (s Settings) Session() time.Duration {
	return time.Duration(s.SessionDuration) * time.Minute
}

func (s Settings) Buffer() time.Duration {
	return time.Duration(s.BufferMinutes) * time.Minute
}

type BlockType string

const (
	BlockMeeting            BlockType = "meeting"
	BlockBlocked            BlockType = "blocked"
	BlockHoliday            BlockType = "holiday"
	BlockTraining           BlockType = "training"
	BlockPersonal           BlockType = "personal"
	BlockMaintenance        BlockType = "maintenance"
	BlockAvailabilityWindow BlockType = "availability-window"
)

var blockTypes = []BlockType{
	BlockMeeting, BlockBlocked, BlockHoliday, BlockTraining,
	BlockPersonal, BlockMaintenance, BlockAvailabilityWindow,
}

// ParseBlockType accepts only the known block types. Titles are never consulted.
func ParseBlockType(raw string) (BlockType, error) {
	raw = strings.TrimSpace(raw)
	for _, bt := range blockTypes {
		if string(bt) == raw {
			return bt, nil
		}
	}
	return "", Fail(ReasonInvalidRequest, fmt.Sprintf("unknown blockType %q", raw))
}

// ReducesAvailability is false only for availability windows.
func (t BlockType) ReducesAvailability() bool {
	return t != BlockAvailabilityWindow
}

// CalendarBlock is a manually declared period. Only IsActive changes after creation.
type CalendarBlock struct {
	ID            string     `json:"id"`
	ActorID       string     `json:"actorId"`
	Title         string     `json:"title"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	BlockType     BlockType  `json:"blockType"`
	IsActive      bool       `json:"isActive"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// ActiveStatuses hold a slot; bookings in these states may never overlap.
var ActiveStatuses = []BookingStatus{StatusPending, StatusConfirmed}

func (s BookingStatus) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition allows pending->confirmed->completed and cancellation of a held slot.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	switch to {
	case StatusConfirmed:
		return s == StatusPending
	case StatusCompleted:
		return s == StatusConfirmed
	case StatusCancelled:
		return s.HoldsSlot()
	default:
		return false
	}
}

type Participant struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type Booking struct {
	ID             string        `json:"id"`
	ActorID        string        `json:"actorId"`
	ScheduledAt    time.Time     `json:"scheduledAt"`
	Duration       int           `json:"duration"`
	Status         BookingStatus `json:"status"`
	Participant    Participant   `json:"participant"`
	IdempotencyKey string        `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	ConfirmedAt    *time.Time    `json:"confirmedAt,omitempty"`
	CancelledAt    *time.Time    `json:"cancelledAt,omitempty"`
	CancelReason   string        `json:"cancelReason,omitempty"`
}

func (b Booking) EndsAt() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.Duration) * time.Minute)
}

// TimeSlot is a transient, per-request view of one candidate start time.
type TimeSlot struct {
	Time           string `json:"time"`
	IsAvailable    bool   `json:"isAvailable"`
	ConflictReason Reason `json:"conflictReason,omitempty"`
}
