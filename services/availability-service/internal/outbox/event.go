package outbox

import "time"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateBooking = "booking"
	AggregateBlock   = "calendar_block"

	BookingReserved  = "booking.reserved.v1"
	BookingConfirmed = "booking.confirmed.v1"
	BookingCancelled = "booking.cancelled.v1"
	BookingCompleted = "booking.completed.v1"
	BlockCreated     = "calendar.block.created.v1"
	BlockDeactivated = "calendar.block.deactivated.v1"
)

// Record is an outbox row as read back by the publisher.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
