// internal/database/rooms.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/room"
)

// PutRoom upserts the full room document. Fields hidden from clients are kept in their own
// columns.
func (p *Postgres) PutRoom(ctx context.Context, r *models.Room) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	spend, err := json.Marshal(r.Spend)
	if err != nil {
		return fmt.Errorf("marshal room spend: %w", err)
	}
	q := `
		INSERT INTO rooms (id, code, status, room_type, host_id, password_hash, spend, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = $3, spend = $7, doc = $8, updated_at = now()
	`
	_, err = p.Pool.Exec(ctx, q,
		r.ID, r.Code, string(r.Status), string(r.Type), r.HostID,
		r.PasswordHash, spend, doc, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", r.ID, err)
	}
	return nil
}

// GetRoom returns room.ErrRoomNotFound for unknown ids.
func (p *Postgres) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	q := `SELECT doc, password_hash, spend FROM rooms WHERE id = $1`
	r, err := scanRoom(p.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, room.ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return r, nil
}

// ListRooms returns rooms newest first.
func (p *Postgres) ListRooms(ctx context.Context, f room.RoomFilter) ([]*models.Room, error) {
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	q := `
		SELECT doc, password_hash, spend FROM rooms
		WHERE ($1 = '' OR room_type = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := p.Pool.Query(ctx, q, string(f.Type), statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var (
		doc, spend []byte
		hash       string
	)
	if err := row.Scan(&doc, &hash, &spend); err != nil {
		return nil, err
	}
	var r models.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	r.PasswordHash = hash
	r.Spend = make(map[uuid.UUID]int64)
	if err := json.Unmarshal(spend, &r.Spend); err != nil {
		return nil, fmt.Errorf("decode room spend: %w", err)
	}
	return &r, nil
}
