// internal/database/winners.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
)

// PutWinner upserts a winner; the ranked copy written at completion replaces the claim.
func (p *Postgres) PutWinner(ctx context.Context, w *models.Winner) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal winner: %w", err)
	}
	q := `
		INSERT INTO winners (id, room_id, prize_type, user_id, ticket_id, claimed_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET doc = $7
	`
	if _, err := p.Pool.Exec(ctx, q, w.ID, w.RoomID, string(w.Kind), w.PlayerID, w.TicketID, w.ClaimedAt, doc); err != nil {
		return fmt.Errorf("upsert winner: %w", err)
	}
	return nil
}

// ListWinnersByRoom returns winners in claim order.
func (p *Postgres) ListWinnersByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Winner, error) {
	rows, err := p.Pool.Query(ctx, `SELECT doc FROM winners WHERE room_id = $1 ORDER BY claimed_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	defer rows.Close()

	var out []models.Winner
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		var w models.Winner
		if err := json.Unmarshal(doc, &w); err != nil {
			return nil, fmt.Errorf("decode winner: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
