// Package consumer applies events from other services to bookings.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotguard/libs/kafkax"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox deduplicates deliveries. Forget is called when handling fails so a redelivery
// is not mistaken for a duplicate.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Consumer struct {
	reader      *kafka.Reader
	logger      *slog.Logger
	inbox       Inbox
	handler     Handler
	maxAttempts int
	backoff     time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	c := &Consumer{
		logger:      logger,
		inbox:       inbox,
		handler:     handler,
		maxAttempts: 3,
		backoff:     1 * time.Second,
	}
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) > 0 && len(cfg.Topics) > 0 {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return c
}

func (c *Consumer) Run(ctx context.Context) {
	if c.reader == nil {
		c.logger.Warn("consumer disabled (no kafka brokers or topics configured)")
		return
	}
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !c.wait(ctx) {
				return
			}
			continue
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Uncommitted, so the message is redelivered after restart.
				return
			}
			c.logger.Error("event dropped", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err)
		}
	}
}

// handleWithRetry retries storage failures up to maxAttempts, backing off between tries.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.Handle(ctx, msg)
		if err == nil || !retryable(err) || attempt >= c.maxAttempts {
			return err
		}
		if !c.wait(ctx) {
			return ctx.Err()
		}
	}
}

// wait sleeps for the backoff and reports false if ctx ends first.
func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Handle processes one message at most once per event id.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta, err := kafkax.ExtractEventMeta(msg)
	if err != nil {
		span.RecordError(err)
		return model.Wrap(model.ReasonInvalidRequest, err)
	}

	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		span.RecordError(err)
		return model.Wrap(model.ReasonStorageError, err)
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctxSpan, msg); err != nil {
		span.RecordError(err)
		if ferr := c.inbox.Forget(ctxSpan, meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}

func retryable(err error) bool {
	return model.ReasonOf(err) == model.ReasonStorageError
}
