// internal/database/players.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/room"
)

const uniqueViolation = "23505"

// ErrEmailTaken is returned when another account already uses the email.
var ErrEmailTaken = &room.Error{Kind: room.KindConflict, Msg: "email already registered"}

// GetPlayer returns room.ErrPlayerNotFound for unknown ids.
func (p *Postgres) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	var pl models.Player
	q := `SELECT id, username, profile_pic, is_banned FROM users WHERE id = $1`
	err := p.Pool.QueryRow(ctx, q, id).Scan(&pl.ID, &pl.Name, &pl.AvatarRef, &pl.Banned)
	if err != nil {
		if isNoRows(err) {
			return nil, room.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}
	return &pl, nil
}

// CreatePlayer inserts an account. Guests have no email. The wallet row is created by the
// first credit.
func (p *Postgres) CreatePlayer(ctx context.Context, pl *models.Player, email string) error {
	if pl.ID == uuid.Nil {
		pl.ID = uuid.New()
	}
	var emailArg *string
	if email != "" {
		emailArg = &email
	}
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO users (id, email, username, profile_pic, is_banned) VALUES ($1, $2, $3, $4, $5)`,
		pl.ID, emailArg, pl.Name, pl.AvatarRef, pl.Banned,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
