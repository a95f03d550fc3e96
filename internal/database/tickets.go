// internal/database/tickets.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rag2504/tambola/internal/models"
)

// PutTickets upserts tickets in one transaction.
func (p *Postgres) PutTickets(ctx context.Context, tickets []*models.Ticket) error {
	q := `
		INSERT INTO tickets (id, room_id, user_id, ticket_number, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET doc = $5
	`
	err := pgx.BeginTxFunc(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tickets {
			doc, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal ticket: %w", err)
			}
			batch.Queue(q, t.ID, t.RoomID, t.PlayerID, t.Number, doc)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("upsert tickets: %w", err)
	}
	return nil
}

// ListTicketsByRoom returns a room's tickets in issue order.
func (p *Postgres) ListTicketsByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Ticket, error) {
	rows, err := p.Pool.Query(ctx, `SELECT doc FROM tickets WHERE room_id = $1 ORDER BY ticket_number`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		var t models.Ticket
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
