package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
)

const blockColumns = `id, actor_id, title, start_time, end_time, block_type, is_active,
	created_by, created_at, deactivated_at`

func scanBlock(row scanner) (model.CalendarBlock, error) {
	var b model.CalendarBlock
	var blockType string
	err := row.Scan(
		&b.ID,
		&b.ActorID,
		&b.Title,
		&b.StartTime,
		&b.EndTime,
		&blockType,
		&b.IsActive,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.DeactivatedAt,
	)
	if err != nil {
		return model.CalendarBlock{}, err
	}
	b.BlockType = model.BlockType(blockType)
	b.StartTime = b.StartTime.UTC()
	b.EndTime = b.EndTime.UTC()
	return b, nil
}

func (r pgReader) ListActiveBlocks(ctx context.Context, actorID string, start, end time.Time) ([]model.CalendarBlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+blockColumns+`
		FROM calendar_blocks
		WHERE actor_id = $1
			AND is_active
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, actorID, start, end)
	if err != nil {
		return nil, mapPGError("list blocks", err)
	}
	out, err := scanRows(rows, scanBlock)
	return out, mapPGError("list blocks", err)
}

func (t *pgTx) InsertBlock(ctx context.Context, b model.CalendarBlock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO calendar_blocks
			(id, actor_id, title, start_time, end_time, block_type, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.ActorID, b.Title, b.StartTime, b.EndTime, string(b.BlockType), b.IsActive, b.CreatedBy, b.CreatedAt)
	return mapPGError("insert block", err)
}

func (t *pgTx) DeactivateBlock(ctx context.Context, actorID, id string, at time.Time) (model.CalendarBlock, bool, error) {
	blk, err := scanBlock(t.tx.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM calendar_blocks
		WHERE id = $1 AND actor_id = $2
		FOR UPDATE
	`, id, actorID))
	if err != nil {
		return model.CalendarBlock{}, false, mapPGError("get block for update", err)
	}
	if !blk.IsActive {
		return blk, false, nil
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE calendar_blocks
		SET is_active = false,
			deactivated_at = $3
		WHERE id = $1 AND actor_id = $2
	`, id, actorID, at)
	if err != nil {
		return model.CalendarBlock{}, false, mapPGError("deactivate block", err)
	}
	blk.IsActive = false
	blk.DeactivatedAt = &at
	return blk, true, nil
}
