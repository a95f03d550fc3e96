// internal/database/ledger.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
)

// Record inserts a ledger line, assigning an id when tx has none.
func (p *Postgres) Record(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = NewTransactionID()
	}
	q := `
		INSERT INTO transactions (id, user_id, amount, type, description, balance_after, room_id, ticket_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := p.Pool.Exec(ctx, q,
		tx.ID, tx.PlayerID, tx.Amount, string(tx.Type), tx.Reason, tx.BalanceAfter,
		tx.RoomID, tx.TicketID, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a player's most recent ledger lines.
func (p *Postgres) ListTransactions(ctx context.Context, playerID uuid.UUID, limit int) ([]models.Transaction, error) {
	q := `
		SELECT id, user_id, amount, type, description, balance_after, room_id, ticket_id, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := p.Pool.Query(ctx, q, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var (
			t      models.Transaction
			typ    string
			roomID *uuid.UUID
		)
		if err := rows.Scan(&t.ID, &t.PlayerID, &t.Amount, &typ, &t.Reason, &t.BalanceAfter, &roomID, &t.TicketID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = models.TransactionType(typ)
		if roomID != nil {
			t.RoomID = *roomID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
