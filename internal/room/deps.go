// internal/room/deps.go
package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/ticket"
	"github.com/sirupsen/logrus"
)

// PlayerStore resolves account details for a player id.
type PlayerStore interface {
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// Wallet moves money atomically. Debit returns ErrInsufficientFunds without debiting when
// the balance is too low.
type Wallet interface {
	Balance(ctx context.Context, playerID uuid.UUID) (int64, error)
	Debit(ctx context.Context, playerID uuid.UUID, amount int64, reason string) (int64, error)
	Credit(ctx context.Context, playerID uuid.UUID, amount int64, reason string) (int64, error)
}

// Ledger records wallet movements caused by rooms.
type Ledger interface {
	Record(ctx context.Context, tx *models.Transaction) error
}

// RoomFilter narrows ListRooms. Empty fields match everything.
type RoomFilter struct {
	Type     models.RoomType
	Statuses []models.RoomStatus
	Limit    int
}

// Store is the durable copy of room state used for recovery. GetRoom returns
// ErrRoomNotFound for unknown ids.
type Store interface {
	PutRoom(ctx context.Context, r *models.Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListRooms(ctx context.Context, f RoomFilter) ([]*models.Room, error)
	PutTickets(ctx context.Context, tickets []*models.Ticket) error
	ListTicketsByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.Ticket, error)
	PutWinner(ctx context.Context, w *models.Winner) error
	ListWinnersByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Winner, error)
}

// Bus delivers events to subscribers of a topic.
type Bus interface {
	Publish(ctx context.Context, topic Topic, event string, payload any) error
}

// ActionLog queues room actions for the historian.
type ActionLog interface {
	LogAction(ctx context.Context, rec models.ActionRecord) error
}

// Deps bundles the collaborators shared by every session in a registry.
type Deps struct {
	Store     Store
	Wallet    Wallet
	Ledger    Ledger
	Players   PlayerStore
	Bus       Bus
	Actions   ActionLog // optional
	Generator *ticket.Generator
	Log       logrus.FieldLogger

	// PrizePoolShare is the fraction of ticket sales added to the prize pool.
	PrizePoolShare float64
	// MaxTicketsPerPurchase bounds a single purchase request.
	MaxTicketsPerPurchase int
	// StoreTimeout bounds each collaborator call made while holding a room lock.
	StoreTimeout time.Duration
	// Now is the clock; tests replace it.
	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Generator == nil {
		d.Generator = ticket.NewDefault()
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.PrizePoolShare <= 0 || d.PrizePoolShare > 1 {
		d.PrizePoolShare = 0.8
	}
	if d.MaxTicketsPerPurchase <= 0 {
		d.MaxTicketsPerPurchase = 10
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 5 * time.Second
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
}
