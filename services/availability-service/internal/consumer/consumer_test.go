package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotguard/libs/kafkax"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/inbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(topic, eventID, value string) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Value:   []byte(value),
		Headers: kafkax.EventMeta{EventID: eventID, EventType: topic}.Headers(),
	}
}

func TestHandle_SkipsDuplicates(t *testing.T) {
	calls := 0
	c := New(discardLogger(), inbox.NewMemory(), Config{}, func(context.Context, kafka.Message) error {
		calls++
		return nil
	})

	msg := message(TopicPaymentCaptured, "e-1", `{}`)
	require.NoError(t, c.Handle(context.Background(), msg))
	require.NoError(t, c.Handle(context.Background(), msg))
	assert.Equal(t, 1, calls)
}

func TestHandle_RejectsMessageWithoutEventID(t *testing.T) {
	calls := 0
	c := New(discardLogger(), inbox.NewMemory(), Config{}, func(context.Context, kafka.Message) error {
		calls++
		return nil
	})

	err := c.Handle(context.Background(), kafka.Message{Topic: TopicPaymentCaptured, Value: []byte(`{}`)})
	assert.Equal(t, model.ReasonInvalidRequest, model.ReasonOf(err))
	assert.False(t, retryable(err))
	assert.Zero(t, calls)
}

func TestHandle_FailureAllowsRedelivery(t *testing.T) {
	fail := true
	calls := 0
	c := New(discardLogger(), inbox.NewMemory(), Config{}, func(context.Context, kafka.Message) error {
		calls++
		if fail {
			return model.Wrap(model.ReasonStorageError, errors.New("db down"))
		}
		return nil
	})

	msg := message(TopicPaymentCaptured, "e-1", `{}`)
	err := c.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, retryable(err))

	fail = false
	require.NoError(t, c.Handle(context.Background(), msg))
	assert.Equal(t, 2, calls)
}

func TestHandleWithRetry_RetriesStorageErrors(t *testing.T) {
	calls := 0
	c := New(discardLogger(), inbox.NewMemory(), Config{}, func(context.Context, kafka.Message) error {
		calls++
		return model.Wrap(model.ReasonStorageError, errors.New("db down"))
	})
	c.backoff = time.Millisecond

	err := c.handleWithRetry(context.Background(), message(TopicPaymentCaptured, "e-1", `{}`))
	assert.Equal(t, model.ReasonStorageError, model.ReasonOf(err))
	assert.Equal(t, 3, calls)
}

func TestHandleWithRetry_StopsBackingOffOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := New(discardLogger(), inbox.NewMemory(), Config{}, func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return model.Wrap(model.ReasonStorageError, errors.New("db down"))
	})
	c.backoff = time.Hour

	done := make(chan error, 1)
	go func() { done <- c.handleWithRetry(ctx, message(TopicPaymentCaptured, "e-1", `{}`)) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry backoff ignored cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestRun_DisabledWithoutBrokers(t *testing.T) {
	c := New(discardLogger(), inbox.NewMemory(), Config{Topics: PaymentTopics}, nil)
	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()
	<-done
}

func reserveOne(t *testing.T) (*reservation.Service, string) {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC) }
	mem := storage.NewMemory()
	svc := reservation.New(mem, settings.New(mem, settings.BuiltinDefaults(), now), availability.NewDetector(now), now)

	date, err := tzconv.ParseDate("2026-10-14")
	require.NoError(t, err)
	res, err := svc.Reserve(context.Background(), reservation.ReserveRequest{
		ActorID:     "actor-1",
		Date:        date,
		Time:        tzconv.Clock(10 * 60),
		Participant: model.Participant{Name: "Grace Hopper"},
	})
	require.NoError(t, err)
	return svc, res.BookingID
}

func TestPaymentHandler_CapturedConfirms(t *testing.T) {
	svc, id := reserveOne(t)
	h := PaymentHandler(svc)

	err := h(context.Background(), message(TopicPaymentCaptured, "e-1", `{"booking_id":"`+id+`","actor_id":"actor-1"}`))
	require.NoError(t, err)

	b, err := svc.Get(context.Background(), "actor-1", id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)
}

func TestPaymentHandler_FailedCancels(t *testing.T) {
	svc, id := reserveOne(t)
	h := PaymentHandler(svc)

	err := h(context.Background(), message(TopicPaymentFailed, "e-1", `{"booking_id":"`+id+`","actor_id":"actor-1"}`))
	require.NoError(t, err)

	b, err := svc.Get(context.Background(), "actor-1", id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, b.Status)
	assert.Equal(t, "payment failed", b.CancelReason)
}

func TestPaymentHandler_RejectsBadEvents(t *testing.T) {
	svc, id := reserveOne(t)
	h := PaymentHandler(svc)

	cases := []kafka.Message{
		message(TopicPaymentCaptured, "e-1", `not json`),
		message(TopicPaymentCaptured, "e-2", `{"booking_id":"`+id+`"}`),
		message("payment.refund.v1", "e-3", `{"booking_id":"`+id+`","actor_id":"actor-1"}`),
	}
	for _, msg := range cases {
		err := h(context.Background(), msg)
		require.Error(t, err)
		assert.Equal(t, model.ReasonInvalidRequest, model.ReasonOf(err))
		assert.False(t, retryable(err))
	}

	err := h(context.Background(), message(TopicPaymentCaptured, "e-4", `{"booking_id":"missing","actor_id":"actor-1"}`))
	assert.ErrorIs(t, err, model.ErrNotFound)
}
