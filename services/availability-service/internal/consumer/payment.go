package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/segmentio/kafka-go"
)

const (
	TopicPaymentCaptured = "payment.booking.captured.v1"
	TopicPaymentFailed   = "payment.booking.failed.v1"

	cancelReasonPaymentFailed = "payment failed"
)

var PaymentTopics = []string{TopicPaymentCaptured, TopicPaymentFailed}

type BookingTransitions interface {
	Confirm(ctx context.Context, actorID, id string) (model.Booking, error)
	Cancel(ctx context.Context, actorID, id, reason string) (model.Booking, error)
}

type paymentEvent struct {
	BookingID string `json:"booking_id"`
	ActorID   string `json:"actor_id"`
}

// PaymentHandler confirms a booking once payment is captured and releases it when
// payment fails.
func PaymentHandler(bookings BookingTransitions) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt paymentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return model.Wrap(model.ReasonInvalidRequest, fmt.Errorf("decode %s: %w", msg.Topic, err))
		}
		if evt.BookingID == "" || evt.ActorID == "" {
			return model.Fail(model.ReasonInvalidRequest, msg.Topic+": booking_id and actor_id are required")
		}

		switch msg.Topic {
		case TopicPaymentCaptured:
			_, err := bookings.Confirm(ctx, evt.ActorID, evt.BookingID)
			return err
		case TopicPaymentFailed:
			_, err := bookings.Cancel(ctx, evt.ActorID, evt.BookingID, cancelReasonPaymentFailed)
			return err
		default:
			return model.Fail(model.ReasonInvalidRequest, "unexpected topic "+msg.Topic)
		}
	}
}
