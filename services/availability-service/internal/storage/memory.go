package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotguard/libs/otel"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

// Memory keeps everything in process. Transactions stage their writes and apply them
// atomically on commit, after re-checking that no two slot-holding bookings overlap.
type Memory struct {
	mu        sync.RWMutex
	settings  map[string]model.Settings
	bookings  map[string]model.Booking
	blocks    map[string]model.CalendarBlock
	idem      map[string]IdempotencyRecord
	events    []outbox.Record
	published map[int64]bool
	nextEvent int64

	locks keyedLocks
}

var (
	_ Store         = (*Memory)(nil)
	_ outbox.Source = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		settings:  map[string]model.Settings{},
		bookings:  map[string]model.Booking{},
		blocks:    map[string]model.CalendarBlock{},
		idem:      map[string]IdempotencyRecord{},
		published: map[int64]bool{},
	}
}

func (m *Memory) GetSettings(_ context.Context, actorID string) (model.Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[actorID]
	if !ok {
		return model.Settings{}, false, nil
	}
	s.WorkingDays = append([]int(nil), s.WorkingDays...)
	return s, true, nil
}

func (m *Memory) PutSettings(ctx context.Context, s model.Settings) error {
	if err := ctx.Err(); err != nil {
		return classify("put settings", err)
	}
	s.WorkingDays = append([]int(nil), s.WorkingDays...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.ActorID] = s
	return nil
}

func (m *Memory) ListBookings(_ context.Context, actorID string, start, end time.Time, statuses ...model.BookingStatus) ([]model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterBookings(m.bookingsFor(actorID, nil), start, end, statuses), nil
}

func (m *Memory) ListActiveBlocks(_ context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterBlocks(m.blocksFor(actorID, nil), start, end), nil
}

func (m *Memory) GetBooking(_ context.Context, actorID, id string) (model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok || b.ActorID != actorID {
		return model.Booking{}, model.ErrNotFound
	}
	return b, nil
}

func (m *Memory) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if b.Status == model.StatusPending && b.CreatedAt.Before(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return classify("begin", err)
	}
	tx := &memTx{
		m:        m,
		held:     map[string]func(){},
		bookings: map[string]model.Booking{},
		blocks:   map[string]model.CalendarBlock{},
		idem:     map[string]IdempotencyRecord{},
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return classify("tx", err)
	}
	// A caller that went away before commit gets a full rollback.
	if err := ctx.Err(); err != nil {
		return classify("commit", err)
	}
	return tx.commit()
}

// Claim passes unpublished events to fn and marks them published only when fn succeeds.
func (m *Memory) Claim(ctx context.Context, limit int, fn func(ctx context.Context, records []outbox.Record) error) error {
	release, err := m.locks.acquire(ctx, "outbox")
	if err != nil {
		return err
	}
	defer release()

	m.mu.RLock()
	var batch []outbox.Record
	for _, r := range m.events {
		if m.published[r.ID] {
			continue
		}
		batch = append(batch, r)
		if limit > 0 && len(batch) == limit {
			break
		}
	}
	m.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}

	if err := fn(ctx, batch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range batch {
		m.published[r.ID] = true
	}
	return nil
}

// Events returns every committed outbox event in insertion order.
func (m *Memory) Events() []outbox.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Record(nil), m.events...)
}

// bookingsFor merges committed bookings with a transaction overlay. Callers hold m.mu.
func (m *Memory) bookingsFor(actorID string, overlay map[string]model.Booking) []model.Booking {
	var out []model.Booking
	for id, b := range m.bookings {
		if staged, ok := overlay[id]; ok {
			b = staged
		}
		if b.ActorID == actorID {
			out = append(out, b)
		}
	}
	for id, b := range overlay {
		if _, ok := m.bookings[id]; !ok && b.ActorID == actorID {
			out = append(out, b)
		}
	}
	return out
}

func (m *Memory) blocksFor(actorID string, overlay map[string]model.CalendarBlock) []model.CalendarBlock {
	var out []model.CalendarBlock
	for id, b := range m.blocks {
		if staged, ok := overlay[id]; ok {
			b = staged
		}
		if b.ActorID == actorID {
			out = append(out, b)
		}
	}
	for id, b := range overlay {
		if _, ok := m.blocks[id]; !ok && b.ActorID == actorID {
			out = append(out, b)
		}
	}
	return out
}

func filterBookings(all []model.Booking, start, end time.Time, statuses []model.BookingStatus) []model.Booking {
	out := make([]model.Booking, 0, len(all))
	for _, b := range all {
		if b.ScheduledAt.Before(start) || !b.ScheduledAt.Before(end) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func filterBlocks(all []model.CalendarBlock, start, end time.Time) []model.CalendarBlock {
	out := make([]model.CalendarBlock, 0, len(all))
	for _, b := range all {
		if b.IsActive && b.StartTime.Before(end) && start.Before(b.EndTime) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func hasStatus(statuses []model.BookingStatus, s model.BookingStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// firstOverlap returns a slot-holding booking other than b that overlaps it.
func firstOverlap(b model.Booking, others []model.Booking) (model.Booking, bool) {
	if !b.Status.HoldsSlot() {
		return model.Booking{}, false
	}
	for _, o := range others {
		if o.ID == b.ID || !o.Status.HoldsSlot() {
			continue
		}
		if b.ScheduledAt.Before(o.EndsAt()) && o.ScheduledAt.Before(b.EndsAt()) {
			return o, true
		}
	}
	return model.Booking{}, false
}

type memTx struct {
	m    *Memory
	held map[string]func()

	bookings map[string]model.Booking
	blocks   map[string]model.CalendarBlock
	idem     map[string]IdempotencyRecord
	events   []outbox.Record
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	release, err := tx.m.locks.acquire(ctx, key)
	if err != nil {
		return classify("lock "+key, err)
	}
	tx.held[key] = release
	return nil
}

func (tx *memTx) release() {
	for key, release := range tx.held {
		release()
		delete(tx.held, key)
	}
}

func (tx *memTx) GetSettings(ctx context.Context, actorID string) (model.Settings, bool, error) {
	return tx.m.GetSettings(ctx, actorID)
}

func (tx *memTx) ListBookings(_ context.Context, actorID string, start, end time.Time, statuses ...model.BookingStatus) ([]model.Booking, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return filterBookings(tx.m.bookingsFor(actorID, tx.bookings), start, end, statuses), nil
}

func (tx *memTx) ListActiveBlocks(_ context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return filterBlocks(tx.m.blocksFor(actorID, tx.blocks), start, end), nil
}

func (tx *memTx) GetBooking(_ context.Context, actorID, id string) (model.Booking, error) {
	if b, ok := tx.bookings[id]; ok && b.ActorID == actorID {
		return b, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	b, ok := tx.m.bookings[id]
	if !ok || b.ActorID != actorID {
		return model.Booking{}, model.ErrNotFound
	}
	return b, nil
}

func (tx *memTx) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error) {
	return tx.m.ListStalePending(ctx, before, limit)
}

func (tx *memTx) LockDay(ctx context.Context, actorID string, date tzconv.Date) error {
	return tx.lock(ctx, "day:"+dayLockKey(actorID, date))
}

func (tx *memTx) LookupIdempotency(ctx context.Context, actorID, key string) (IdempotencyRecord, bool, error) {
	k := actorID + "|" + key
	if err := tx.lock(ctx, "idem:"+k); err != nil {
		return IdempotencyRecord{}, false, err
	}
	if rec, ok := tx.idem[k]; ok {
		return rec, true, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	rec, ok := tx.m.idem[k]
	return rec, ok, nil
}

func (tx *memTx) SaveIdempotency(_ context.Context, rec IdempotencyRecord) error {
	tx.idem[rec.ActorID+"|"+rec.Key] = rec
	return nil
}

func (tx *memTx) InsertBooking(_ context.Context, b model.Booking) error {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if _, exists := tx.m.bookings[b.ID]; exists {
		return classify("insert booking", errDuplicateID)
	}
	if _, exists := tx.bookings[b.ID]; exists {
		return classify("insert booking", errDuplicateID)
	}
	if _, clash := firstOverlap(b, tx.m.bookingsFor(b.ActorID, tx.bookings)); clash {
		return model.ErrSlotAlreadyBooked
	}
	tx.bookings[b.ID] = b
	return nil
}

func (tx *memTx) GetBookingForUpdate(ctx context.Context, actorID, id string) (model.Booking, error) {
	if err := tx.lock(ctx, "booking:"+id); err != nil {
		return model.Booking{}, err
	}
	return tx.GetBooking(ctx, actorID, id)
}

func (tx *memTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	if _, err := tx.GetBooking(ctx, b.ActorID, b.ID); err != nil {
		return err
	}
	tx.bookings[b.ID] = b
	return nil
}

func (tx *memTx) InsertBlock(_ context.Context, b model.CalendarBlock) error {
	tx.m.mu.RLock()
	_, exists := tx.m.blocks[b.ID]
	tx.m.mu.RUnlock()
	if _, staged := tx.blocks[b.ID]; exists || staged {
		return classify("insert block", errDuplicateID)
	}
	tx.blocks[b.ID] = b
	return nil
}

func (tx *memTx) DeactivateBlock(ctx context.Context, actorID, id string, at time.Time) (model.CalendarBlock, bool, error) {
	if err := tx.lock(ctx, "block:"+id); err != nil {
		return model.CalendarBlock{}, false, err
	}
	blk, ok := tx.blocks[id]
	if !ok {
		tx.m.mu.RLock()
		blk, ok = tx.m.blocks[id]
		tx.m.mu.RUnlock()
	}
	if !ok || blk.ActorID != actorID {
		return model.CalendarBlock{}, false, model.ErrNotFound
	}
	if !blk.IsActive {
		return blk, false, nil
	}
	blk.IsActive = false
	blk.DeactivatedAt = &at
	tx.blocks[id] = blk
	return blk, true, nil
}

func (tx *memTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	tx.events = append(tx.events, outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       append([]byte(nil), evt.Payload...),
		Traceparent:   tc.Parent,
		Tracestate:    tc.State,
		CreatedAt:     time.Now().UTC(),
	})
	return nil
}

func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range tx.bookings {
		if _, clash := firstOverlap(b, m.bookingsFor(b.ActorID, tx.bookings)); clash {
			return model.ErrSlotAlreadyBooked
		}
	}

	for id, b := range tx.bookings {
		m.bookings[id] = b
	}
	for id, b := range tx.blocks {
		m.blocks[id] = b
	}
	for k, rec := range tx.idem {
		m.idem[k] = rec
	}
	for _, r := range tx.events {
		m.nextEvent++
		r.ID = m.nextEvent
		m.events = append(m.events, r)
	}
	return nil
}
