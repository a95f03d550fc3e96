package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// Transaction is a ledger line for a wallet movement. RoomID is zero for wallet top-ups.
type Transaction struct {
	ID           string          `json:"id"`
	PlayerID     uuid.UUID       `json:"user_id"`
	Amount       int64           `json:"amount"`
	Type         TransactionType `json:"type"`
	Reason       string          `json:"description"`
	BalanceAfter int64           `json:"balance_after"`
	RoomID       uuid.UUID       `json:"room_id"`
	TicketID     *uuid.UUID      `json:"ticket_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
