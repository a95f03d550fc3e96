// internal/database/actions.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rag2504/tambola/internal/models"
)

// InsertRoomActions writes a batch of action records in one transaction. Records already
// stored are skipped so a redelivered batch is harmless.
func (p *Postgres) InsertRoomActions(ctx context.Context, recs []models.ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	q := `
		INSERT INTO room_actions (room_id, action_index, actor_user_id, action_type, action_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, action_index, created_at) DO NOTHING
	`
	err := pgx.BeginTxFunc(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			payload, err := json.Marshal(rec.ActionPayload)
			if err != nil {
				return fmt.Errorf("marshal payload for room %s action %d: %w", rec.RoomID, rec.ActionIndex, err)
			}
			batch.Queue(q, rec.RoomID, rec.ActionIndex, rec.ActorUserID, rec.ActionType, payload, time.UnixMilli(rec.Timestamp).UTC())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert room actions: %w", err)
	}
	return nil
}
