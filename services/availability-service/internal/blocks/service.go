// Package blocks manages manually declared calendar periods. A block is created or
// deactivated, never edited.
package blocks

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/storage"
)

const maxTitleLen = 200

type Service struct {
	store storage.Store
	now   func() time.Time
}

func New(store storage.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// Create stores an active block over [start, end) and returns its id. The block type
// decides whether the period reduces availability; the title is free text.
func (s *Service) Create(ctx context.Context, actorID, title string, start, end time.Time, blockType, createdBy string) (string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", model.Fail(model.ReasonInvalidRequest, "actor id is required")
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return "", model.Fail(model.ReasonInvalidRequest, "endTime must be after startTime")
	}
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLen {
		return "", model.Fail(model.ReasonInvalidRequest, "title is too long")
	}
	bt, err := model.ParseBlockType(blockType)
	if err != nil {
		return "", err
	}

	blk := model.CalendarBlock{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Title:     title,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		BlockType: bt,
		IsActive:  true,
		CreatedBy: strings.TrimSpace(createdBy),
		CreatedAt: s.now().UTC(),
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertBlock(ctx, blk); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"block_id":   blk.ID,
			"actor_id":   blk.ActorID,
			"block_type": string(blk.BlockType),
			"start_time": blk.StartTime.Format(time.RFC3339),
			"end_time":   blk.EndTime.Format(time.RFC3339),
			"created_at": blk.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, outbox.Event{
			AggregateType: outbox.AggregateBlock,
			AggregateID:   blk.ID,
			EventType:     outbox.BlockCreated,
			Payload:       payload,
		})
	})
	if err != nil {
		return "", err
	}
	return blk.ID, nil
}

// Deactivate is idempotent: deactivating an inactive block succeeds and emits nothing.
func (s *Service) Deactivate(ctx context.Context, actorID, id string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		blk, changed, err := tx.DeactivateBlock(ctx, actorID, id, s.now().UTC())
		if err != nil || !changed {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"block_id":       blk.ID,
			"actor_id":       blk.ActorID,
			"deactivated_at": blk.DeactivatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, outbox.Event{
			AggregateType: outbox.AggregateBlock,
			AggregateID:   blk.ID,
			EventType:     outbox.BlockDeactivated,
			Payload:       payload,
		})
	})
}

// ListActiveOverlapping returns active blocks that intersect [start, end).
func (s *Service) ListActiveOverlapping(ctx context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error) {
	if !end.After(start) {
		return nil, model.Fail(model.ReasonInvalidRequest, "to must be after from")
	}
	return s.store.ListActiveBlocks(ctx, actorID, start.UTC(), end.UTC())
}
