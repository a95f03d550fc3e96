// internal/memstore/memstore.go
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/database"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/room"
)

// Store keeps rooms, tickets, winners, accounts, wallets and the ledger in memory. It backs
// the server when no database is configured and is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	rooms    map[uuid.UUID]*models.Room
	tickets  map[uuid.UUID]*models.Ticket
	winners  map[uuid.UUID]models.Winner
	players  map[uuid.UUID]*models.Player
	balances map[uuid.UUID]int64
	ledger   []models.Transaction
	actions  []models.ActionRecord
}

func New() *Store {
	return &Store{
		rooms:    make(map[uuid.UUID]*models.Room),
		tickets:  make(map[uuid.UUID]*models.Ticket),
		winners:  make(map[uuid.UUID]models.Winner),
		players:  make(map[uuid.UUID]*models.Player),
		balances: make(map[uuid.UUID]int64),
	}
}

func (m *Store) PutRoom(_ context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r.Clone()
	return nil
}

func (m *Store) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return r.Clone(), nil
}

// ListRooms returns matching rooms newest first.
func (m *Store) ListRooms(_ context.Context, f room.RoomFilter) ([]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Room
	for _, r := range m.rooms {
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Room) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Store) PutTickets(_ context.Context, tickets []*models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tickets {
		m.tickets[t.ID] = t.Clone()
	}
	return nil
}

func (m *Store) ListTicketsByRoom(_ context.Context, roomID uuid.UUID) ([]*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ticket
	for _, t := range m.tickets {
		if t.RoomID == roomID {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Ticket) int { return a.Number - b.Number })
	return out, nil
}

func (m *Store) PutWinner(_ context.Context, w *models.Winner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winners[w.ID] = *w
	return nil
}

func (m *Store) ListWinnersByRoom(_ context.Context, roomID uuid.UUID) ([]models.Winner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Winner
	for _, w := range m.winners {
		if w.RoomID == roomID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b models.Winner) int { return a.Rank - b.Rank })
	return out, nil
}

func (m *Store) GetPlayer(_ context.Context, id uuid.UUID) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, room.ErrPlayerNotFound
	}
	c := *p
	return &c, nil
}

// CreatePlayer registers an account. The email is not kept.
func (m *Store) CreatePlayer(_ context.Context, p *models.Player, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	c := *p
	m.players[p.ID] = &c
	return nil
}

func (m *Store) Balance(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id], nil
}

func (m *Store) Debit(_ context.Context, id uuid.UUID, amount int64, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[id] < amount {
		return m.balances[id], room.ErrInsufficientFunds
	}
	m.balances[id] -= amount
	return m.balances[id], nil
}

func (m *Store) Credit(_ context.Context, id uuid.UUID, amount int64, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] += amount
	return m.balances[id], nil
}

// Record appends to the ledger, assigning an id the same way the database does.
func (m *Store) Record(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = database.NewTransactionID()
	}
	m.ledger = append(m.ledger, *tx)
	return nil
}

// ListTransactions returns a player's ledger lines newest first.
func (m *Store) ListTransactions(_ context.Context, playerID uuid.UUID, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].PlayerID != playerID {
			continue
		}
		out = append(out, m.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LogAction keeps action records in memory in place of the historian queue.
func (m *Store) LogAction(_ context.Context, rec models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, rec)
	return nil
}

// Actions returns the logged action records of roomID.
func (m *Store) Actions(roomID uuid.UUID) []models.ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActionRecord
	for _, a := range m.actions {
		if a.RoomID == roomID {
			out = append(out, a)
		}
	}
	return out
}
