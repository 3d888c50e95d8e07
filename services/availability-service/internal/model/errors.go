package model

import "errors"

// Reason is the code returned to callers in place of raw errors.
type Reason string

const (
	ReasonInvalidDate                  Reason = "InvalidDate"
	ReasonInvalidLocalTime             Reason = "InvalidLocalTime"
	ReasonNotWorkingDay                Reason = "NotWorkingDay"
	ReasonOutsideWorkingHours          Reason = "OutsideWorkingHours"
	ReasonPastTimeSlot                 Reason = "PastTimeSlot"
	ReasonSlotAlreadyBooked            Reason = "SlotAlreadyBooked"
	ReasonCalendarConflict             Reason = "CalendarConflict"
	ReasonAdvanceBookingWindowExceeded Reason = "AdvanceBookingWindowExceeded"
	ReasonMaxSessionsReached           Reason = "MaxSessionsReached"
	ReasonStorageError                 Reason = "StorageError"
	ReasonInvalidRequest               Reason = "InvalidRequest"
	ReasonNotFound                     Reason = "NotFound"
	ReasonInvalidTransition            Reason = "InvalidTransition"
)

// IsConflict reports whether the reason describes the requested slot rather than the request.
func (r Reason) IsConflict() bool {
	switch r {
	case ReasonSlotAlreadyBooked, ReasonCalendarConflict, ReasonMaxSessionsReached:
		return true
	}
	return false
}

// Error carries a Reason. Two Errors match under errors.Is when their reasons are equal,
// so callers compare against the sentinels below.
type Error struct {
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func Fail(reason Reason, msg string) *Error {
	return &Error{Reason: reason, Msg: msg}
}

func Wrap(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

var (
	ErrSlotAlreadyBooked = Fail(ReasonSlotAlreadyBooked, "")
	ErrNotFound          = Fail(ReasonNotFound, "")
	ErrInvalidTransition = Fail(ReasonInvalidTransition, "")
	ErrInvalidRequest    = Fail(ReasonInvalidRequest, "")
	ErrStorage           = Fail(ReasonStorageError, "")
)

// ReasonOf extracts the reason from err. Anything without one is a storage failure.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonStorageError
}
