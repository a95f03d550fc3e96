// internal/room/fakes_test.go
package room

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/ticket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

// memStore keeps persisted state in maps and can be told to fail.
type memStore struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]*models.Room
	tickets     map[uuid.UUID]*models.Ticket
	winners     map[uuid.UUID]models.Winner
	failTickets bool
	failRoom    bool
}

func newMemStore() *memStore {
	return &memStore{
		rooms:   make(map[uuid.UUID]*models.Room),
		tickets: make(map[uuid.UUID]*models.Ticket),
		winners: make(map[uuid.UUID]models.Winner),
	}
}

func (m *memStore) PutRoom(_ context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRoom {
		return errStoreDown
	}
	m.rooms[r.ID] = r.Clone()
	return nil
}

func (m *memStore) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (m *memStore) ListRooms(_ context.Context, f RoomFilter) ([]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Room
	for _, r := range m.rooms {
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		match := len(f.Statuses) == 0
		for _, st := range f.Statuses {
			if r.Status == st {
				match = true
			}
		}
		if match {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *memStore) PutTickets(_ context.Context, tickets []*models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTickets {
		return errStoreDown
	}
	for _, t := range tickets {
		m.tickets[t.ID] = t.Clone()
	}
	return nil
}

func (m *memStore) ListTicketsByRoom(_ context.Context, roomID uuid.UUID) ([]*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ticket
	for _, t := range m.tickets {
		if t.RoomID == roomID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *memStore) PutWinner(_ context.Context, w *models.Winner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winners[w.ID] = *w
	return nil
}

func (m *memStore) ListWinnersByRoom(_ context.Context, roomID uuid.UUID) ([]models.Winner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Winner
	for _, w := range m.winners {
		if w.RoomID == roomID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memStore) setFail(tickets, room bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTickets, m.failRoom = tickets, room
}

// memWallet is an in-memory wallet with call counters.
type memWallet struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	debits   int
	credits  int
}

func newMemWallet() *memWallet {
	return &memWallet{balances: make(map[uuid.UUID]int64)}
}

func (w *memWallet) Balance(_ context.Context, id uuid.UUID) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[id], nil
}

func (w *memWallet) Debit(_ context.Context, id uuid.UUID, amount int64, _ string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[id] < amount {
		return w.balances[id], ErrInsufficientFunds
	}
	w.debits++
	w.balances[id] -= amount
	return w.balances[id], nil
}

func (w *memWallet) Credit(_ context.Context, id uuid.UUID, amount int64, _ string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credits++
	w.balances[id] += amount
	return w.balances[id], nil
}

func (w *memWallet) balance(id uuid.UUID) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[id]
}

type memLedger struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (l *memLedger) Record(_ context.Context, tx *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, *tx)
	return nil
}

func (l *memLedger) all() []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Transaction(nil), l.txs...)
}

type memPlayers struct {
	players map[uuid.UUID]*models.Player
}

func (p *memPlayers) GetPlayer(_ context.Context, id uuid.UUID) (*models.Player, error) {
	pl, ok := p.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	c := *pl
	return &c, nil
}

type busEvent struct {
	Topic   Topic
	Event   string
	Payload any
}

// recordingBus collects events instead of sending them anywhere.
type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *recordingBus) Publish(_ context.Context, topic Topic, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{Topic: topic, Event: event, Payload: payload})
	return nil
}

func (b *recordingBus) count(topic Topic, event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Topic == topic && e.Event == event {
			n++
		}
	}
	return n
}

func (b *recordingBus) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type recordingActions struct {
	mu   sync.Mutex
	recs []models.ActionRecord
}

func (a *recordingActions) LogAction(_ context.Context, rec models.ActionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *recordingActions) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

// fixture wires a registry to in-memory collaborators with three accounts: a host and two
// players.
type fixture struct {
	reg     *Registry
	deps    Deps
	store   *memStore
	wallet  *memWallet
	ledger  *memLedger
	bus     *recordingBus
	actions *recordingActions

	host, alice, bob uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		wallet:  newMemWallet(),
		ledger:  &memLedger{},
		bus:     &recordingBus{},
		actions: &recordingActions{},
		host:    uuid.New(),
		alice:   uuid.New(),
		bob:     uuid.New(),
	}
	players := &memPlayers{players: map[uuid.UUID]*models.Player{
		f.host:  {ID: f.host, Name: "Host"},
		f.alice: {ID: f.alice, Name: "Alice"},
		f.bob:   {ID: f.bob, Name: "Bob"},
	}}

	var tick atomic.Int64
	base := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	f.deps = Deps{
		Store:     f.store,
		Wallet:    f.wallet,
		Ledger:    f.ledger,
		Players:   players,
		Bus:       f.bus,
		Actions:   f.actions,
		Generator: ticket.New(rand.NewSource(1)),
		Log:       logger,
		Now: func() time.Time {
			return base.Add(time.Duration(tick.Add(1)) * time.Second)
		},
	}
	f.reg = NewRegistry(f.deps)
	return f
}

func (f *fixture) addPlayer(name string, banned bool) uuid.UUID {
	id := uuid.New()
	f.deps.Players.(*memPlayers).players[id] = &models.Player{ID: id, Name: name, Banned: banned}
	return id
}

func defaultPrizes() []models.PrizeConfig {
	return []models.PrizeConfig{
		{Kind: models.PrizeEarlyFive, Amount: 50, Enabled: true},
		{Kind: models.PrizeTopLine, Amount: 100, Enabled: true},
		{Kind: models.PrizeMiddleLine, Amount: 100, Enabled: true, AllowsMultipleWinners: true},
		{Kind: models.PrizeFullHouse, Amount: 500, Enabled: true},
	}
}

func (f *fixture) createRoom(t *testing.T, mutate func(p *CreateRoomParams)) *Session {
	t.Helper()
	p := CreateRoomParams{
		HostID:      f.host,
		Name:        "Friday Housie",
		Type:        models.RoomPublic,
		TicketPrice: 0,
		MinPlayers:  2,
		MaxPlayers:  10,
		Prizes:      defaultPrizes(),
	}
	if mutate != nil {
		mutate(&p)
	}
	s, err := f.reg.Create(context.Background(), p)
	require.NoError(t, err)
	return s
}

// startedRoom creates a free room, joins alice and bob and starts the game.
func (f *fixture) startedRoom(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	s := f.createRoom(t, nil)
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, f.host))
	f.bus.clear()
	return s
}

func (f *fixture) call(t *testing.T, s *Session, nums ...int) {
	t.Helper()
	for _, n := range nums {
		if s.Room().IsCalled(n) {
			continue
		}
		n := n
		_, err := s.CallNumber(context.Background(), f.host, &n)
		require.NoError(t, err)
	}
}

func onlyTicket(t *testing.T, s *Session, player uuid.UUID) *models.Ticket {
	t.Helper()
	ts := s.TicketsFor(player)
	require.Len(t, ts, 1)
	return ts[0]
}
