package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/slotguard/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	records   []Record
	published []int64
}

func (s *sliceSource) Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) error) error {
	var batch []Record
	for _, r := range s.records {
		if len(batch) == limit {
			break
		}
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := fn(ctx, batch); err != nil {
		return err
	}
	s.records = s.records[len(batch):]
	for _, r := range batch {
		s.published = append(s.published, r.ID)
	}
	return nil
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishBatch_TopicPerEventType(t *testing.T) {
	src := &sliceSource{records: []Record{
		{ID: 1, EventID: "e-1", AggregateID: "bk-1", EventType: BookingReserved, Payload: []byte(`{"booking_id":"bk-1"}`)},
		{ID: 2, EventID: "e-2", AggregateID: "blk-1", EventType: BlockCreated, Payload: []byte(`{}`)},
		{ID: 3, EventID: "e-3", AggregateID: "bk-1", EventType: BookingCancelled, Payload: []byte(`{}`)},
	}}
	p := NewPublisher(src, discardLogger(), PublisherConfig{BatchSize: 2})
	w := &recordingWriter{}

	n, err := p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, BookingReserved, w.msgs[0].Topic)
	assert.Equal(t, "bk-1", string(w.msgs[0].Key))
	assert.Equal(t, "e-1", kafkax.HeaderValue(w.msgs[0].Headers, "event_id"))
	assert.Equal(t, BookingReserved, kafkax.HeaderValue(w.msgs[0].Headers, "event_type"))
	assert.Equal(t, []int64{1, 2}, src.published)

	n, err = p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPublishBatch_WriteFailureKeepsRecords(t *testing.T) {
	src := &sliceSource{records: []Record{{ID: 1, EventID: "e-1", EventType: BookingReserved}}}
	p := NewPublisher(src, discardLogger(), PublisherConfig{})
	boom := errors.New("broker unavailable")

	_, err := p.PublishBatch(context.Background(), &recordingWriter{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, src.published)
	assert.Len(t, src.records, 1)
}

func TestRun_DisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher(&sliceSource{}, discardLogger(), PublisherConfig{})
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	<-done
}
