// internal/models/winner.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Winner is a validated prize claim. Rank is assigned once the game completes.
type Winner struct {
	ID           uuid.UUID `json:"id"`
	RoomID       uuid.UUID `json:"room_id"`
	Kind         PrizeKind `json:"prize_type"`
	PlayerID     uuid.UUID `json:"user_id"`
	PlayerName   string    `json:"user_name"`
	TicketID     uuid.UUID `json:"ticket_id"`
	TicketNumber int       `json:"ticket_number"`
	Amount       int64     `json:"amount"`
	ClaimedAt    time.Time `json:"claimed_at"`
	Validated    bool      `json:"verified"`
	Rank         int       `json:"rank,omitempty"`
}
