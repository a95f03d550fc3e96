// internal/database/wallet.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rag2504/tambola/internal/room"
)

// Balance returns the wallet balance, zero for players without a wallet row.
func (p *Postgres) Balance(ctx context.Context, playerID uuid.UUID) (int64, error) {
	var bal int64
	err := p.Pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, playerID).Scan(&bal)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// Debit removes amount under a row lock. It returns room.ErrInsufficientFunds and changes
// nothing when the balance is too low.
func (p *Postgres) Debit(ctx context.Context, playerID uuid.UUID, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit %q: amount must be positive", reason)
	}
	var newBal int64
	err := pgx.BeginTxFunc(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var bal int64
		err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, playerID).Scan(&bal)
		if err != nil {
			if isNoRows(err) {
				return room.ErrInsufficientFunds
			}
			return err
		}
		if bal < amount {
			return room.ErrInsufficientFunds
		}
		newBal = bal - amount
		_, err = tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE user_id = $2`, newBal, playerID)
		return err
	})
	if err != nil {
		if errors.Is(err, room.ErrInsufficientFunds) {
			return 0, err
		}
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	return newBal, nil
}

// Credit adds amount, creating the wallet row if needed.
func (p *Postgres) Credit(ctx context.Context, playerID uuid.UUID, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit %q: amount must be positive", reason)
	}
	var newBal int64
	err := pgx.BeginTxFunc(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`, playerID); err != nil {
			return err
		}
		var bal int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, playerID).Scan(&bal); err != nil {
			return err
		}
		newBal = bal + amount
		_, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE user_id = $2`, newBal, playerID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	return newBal, nil
}
