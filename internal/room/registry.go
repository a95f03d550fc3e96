// internal/room/registry.go
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/ticket"
	"github.com/sirupsen/logrus"
)

const (
	maxRoomPlayers   = 100
	defaultListLimit = 50
)

// CreateRoomParams describes a new room.
type CreateRoomParams struct {
	HostID           uuid.UUID
	Name             string
	Type             models.RoomType
	Password         string
	TicketPrice      int64
	MinPlayers       int
	MaxPlayers       int
	Prizes           []models.PrizeConfig
	AutoCallInterval time.Duration
}

// conn is one live socket. room is uuid.Nil until the socket binds to a room.
type conn struct {
	player uuid.UUID
	room   uuid.UUID
}

// Registry owns the live sessions of this process and the socket bookkeeping that routes
// commands to them.
type Registry struct {
	deps *Deps
	log  logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	conns    map[string]conn
}

// NewRegistry applies defaults to deps and returns an empty registry.
func NewRegistry(deps Deps) *Registry {
	deps.defaults()
	return &Registry{
		deps:     &deps,
		log:      deps.Log.WithField("component", "registry"),
		sessions: make(map[uuid.UUID]*Session),
		conns:    make(map[string]conn),
	}
}

// Create validates p, persists a new waiting room and starts a session for it.
func (reg *Registry) Create(ctx context.Context, p CreateRoomParams) (*Session, error) {
	prizes, err := normalizeParams(&p)
	if err != nil {
		return nil, err
	}

	host, err := reg.deps.Players.GetPlayer(ctx, p.HostID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		reg.log.WithError(err).Error("get host")
		return nil, ErrInternal
	}
	if host.Banned {
		return nil, ErrBanned
	}

	var hash string
	if p.Type == models.RoomPrivate && p.Password != "" {
		hash, err = auth.HashRoomPassword(p.Password)
		if err != nil {
			reg.log.WithError(err).Error("hash room password")
			return nil, ErrInternal
		}
	}

	r := &models.Room{
		ID:               uuid.New(),
		Code:             newRoomCode(),
		Name:             p.Name,
		HostID:           host.ID,
		HostName:         host.Name,
		Type:             p.Type,
		PasswordHash:     hash,
		TicketPrice:      p.TicketPrice,
		MinPlayers:       p.MinPlayers,
		MaxPlayers:       p.MaxPlayers,
		Status:           models.RoomWaiting,
		Players:          []models.RoomPlayer{},
		Called:           []int{},
		Prizes:           prizes,
		Winners:          []models.Winner{},
		Spend:            make(map[uuid.UUID]int64),
		AutoCallInterval: p.AutoCallInterval,
		CreatedAt:        reg.deps.Now(),
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reg.deps.StoreTimeout)
	defer cancel()
	if err := reg.deps.Store.PutRoom(opCtx, r); err != nil {
		reg.log.WithError(err).Error("persist new room")
		return nil, ErrInternal
	}

	s := reg.add(r, nil)
	s.publish(LobbyTopic, EventNewRoom, r)
	s.logAction(host.ID, "room_create", map[string]any{"name": r.Name, "type": r.Type})
	s.log.WithField("host", host.ID).Info("room created")
	return s, nil
}

func normalizeParams(p *CreateRoomParams) ([]models.PrizeConfig, error) {
	p.Name = strings.TrimSpace(p.Name)
	if n := utf8.RuneCountInString(p.Name); n < 3 || n > 50 {
		return nil, newError(KindValidation, "room name must be 3 to 50 characters")
	}
	if p.Type == "" {
		p.Type = models.RoomPublic
	}
	if p.Type != models.RoomPublic && p.Type != models.RoomPrivate {
		return nil, newError(KindValidation, "unknown room type %q", p.Type)
	}
	if p.TicketPrice < 0 {
		return nil, newError(KindValidation, "ticket price must not be negative")
	}
	if p.MinPlayers < 2 || p.MinPlayers > p.MaxPlayers || p.MaxPlayers > maxRoomPlayers {
		return nil, newError(KindValidation, "players must satisfy 2 <= min <= max <= %d", maxRoomPlayers)
	}
	if p.AutoCallInterval < 0 || (p.AutoCallInterval > 0 && p.AutoCallInterval < time.Second) {
		return nil, newError(KindValidation, "auto call interval must be zero or at least one second")
	}

	prizes := make([]models.PrizeConfig, 0, len(p.Prizes))
	enabled := 0
	for _, pc := range p.Prizes {
		kind, err := models.ParsePrizeKind(string(pc.Kind))
		if err != nil {
			return nil, newError(KindValidation, "%v", err)
		}
		pc.Kind = kind
		if err := pc.Validate(); err != nil {
			return nil, newError(KindValidation, "%v", err)
		}
		if slices.ContainsFunc(prizes, func(x models.PrizeConfig) bool { return x.Kind == kind }) {
			return nil, newError(KindValidation, "prize %s configured twice", kind)
		}
		if pc.Enabled {
			enabled++
		}
		prizes = append(prizes, pc)
	}
	if enabled == 0 {
		return nil, newError(KindValidation, "at least one prize must be enabled")
	}
	return prizes, nil
}

// newRoomCode returns an 8 character upper-case join code.
func newRoomCode() string {
	return rand.Text()[:8]
}

func (reg *Registry) add(r *models.Room, tickets []*models.Ticket) *Session {
	s := NewSession(reg.deps, r, tickets)
	s.OnClosed = reg.Retire
	reg.mu.Lock()
	reg.sessions[r.ID] = s
	reg.mu.Unlock()
	return s
}

// Get returns the live session for id.
func (reg *Registry) Get(id uuid.UUID) (*Session, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.sessions[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Lookup returns the live session for id, falling back to the stored room for rooms that
// have already closed. The second result is nil for closed rooms.
func (reg *Registry) Lookup(ctx context.Context, id uuid.UUID) (*models.Room, *Session, error) {
	if s, err := reg.Get(id); err == nil {
		return s.Room(), s, nil
	}
	r, err := reg.deps.Store.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		reg.log.WithError(err).WithField("room", id).Error("get stored room")
		return nil, nil, ErrInternal
	}
	return r, nil, nil
}

// FindByCode returns the live session whose join code is code, ignoring case.
func (reg *Registry) FindByCode(code string) (*Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, s := range reg.sessions {
		if s.Room().Code == code {
			return s, nil
		}
	}
	return nil, ErrRoomNotFound
}

// Winners returns the winners of a live or closed room. Closed rooms list them by rank.
func (reg *Registry) Winners(ctx context.Context, id uuid.UUID) ([]models.Winner, error) {
	if s, err := reg.Get(id); err == nil {
		return s.Winners(), nil
	}
	if _, _, err := reg.Lookup(ctx, id); err != nil {
		return nil, err
	}
	winners, err := reg.deps.Store.ListWinnersByRoom(ctx, id)
	if err != nil {
		reg.log.WithError(err).WithField("room", id).Error("list stored winners")
		return nil, ErrInternal
	}
	slices.SortFunc(winners, func(a, b models.Winner) int { return a.Rank - b.Rank })
	return winners, nil
}

// PlayerTickets returns playerID's tickets in a live or closed room.
func (reg *Registry) PlayerTickets(ctx context.Context, roomID, playerID uuid.UUID) ([]*models.Ticket, error) {
	if s, err := reg.Get(roomID); err == nil {
		return s.TicketsFor(playerID), nil
	}
	if _, _, err := reg.Lookup(ctx, roomID); err != nil {
		return nil, err
	}
	all, err := reg.deps.Store.ListTicketsByRoom(ctx, roomID)
	if err != nil {
		reg.log.WithError(err).WithField("room", roomID).Error("list stored tickets")
		return nil, ErrInternal
	}
	out := make([]*models.Ticket, 0, 1)
	for _, t := range all {
		if t.PlayerID == playerID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *models.Ticket) int { return a.Number - b.Number })
	return out, nil
}

// List returns rooms matching f, newest first. Without statuses it lists waiting and active
// rooms from memory; asking for a closed status reads the store.
func (reg *Registry) List(ctx context.Context, f RoomFilter) ([]*models.Room, error) {
	if len(f.Statuses) == 0 {
		f.Statuses = []models.RoomStatus{models.RoomWaiting, models.RoomActive}
	}
	if f.Limit <= 0 || f.Limit > defaultListLimit {
		f.Limit = defaultListLimit
	}
	if slices.ContainsFunc(f.Statuses, models.RoomStatus.Terminal) {
		rooms, err := reg.deps.Store.ListRooms(ctx, f)
		if err != nil {
			reg.log.WithError(err).Error("list stored rooms")
			return nil, ErrInternal
		}
		return rooms, nil
	}

	reg.mu.RLock()
	out := make([]*models.Room, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		r := s.Room()
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	reg.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.Room) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Retire drops a closed session. Sockets bound to it stay connected.
func (reg *Registry) Retire(id uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.sessions, id)
}

// Restore rebuilds sessions for every waiting or active room in the store. Active rooms with
// an auto-call interval resume calling. A room holding a ticket that fails validation is
// logged and left out; the returned count covers restored rooms only.
func (reg *Registry) Restore(ctx context.Context) (int, error) {
	rooms, err := reg.deps.Store.ListRooms(ctx, RoomFilter{
		Statuses: []models.RoomStatus{models.RoomWaiting, models.RoomActive},
	})
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, r := range rooms {
		tickets, err := reg.deps.Store.ListTicketsByRoom(ctx, r.ID)
		if err != nil {
			return restored, err
		}
		if err := checkStoredTickets(tickets); err != nil {
			reg.log.WithError(err).WithField("room", r.ID).Error("skipping room with invalid stored ticket")
			continue
		}
		slices.SortFunc(tickets, func(a, b *models.Ticket) int { return a.Number - b.Number })
		s := reg.add(r, tickets)
		if r.Status == models.RoomActive && r.AutoCallInterval > 0 {
			s.mu.Lock()
			s.startAutoCaller(r.AutoCallInterval)
			s.mu.Unlock()
		}
		s.log.WithField("tickets", len(tickets)).Info("room restored")
		restored++
	}
	return restored, nil
}

// checkStoredTickets verifies each grid and that the cached number and mark lists agree with it.
func checkStoredTickets(tickets []*models.Ticket) error {
	for _, t := range tickets {
		if err := ticket.Validate(t.Grid); err != nil {
			return fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		if !slices.Equal(t.Numbers, t.Grid.Numbers()) {
			return fmt.Errorf("ticket %s: numbers do not match grid", t.ID)
		}
		for _, n := range t.Marked {
			if !t.Has(n) {
				return fmt.Errorf("ticket %s: marked %d is not on the ticket", t.ID, n)
			}
		}
	}
	return nil
}

// Connect records an authenticated socket.
func (reg *Registry) Connect(connID string, playerID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.conns[connID] = conn{player: playerID}
}

// Bind attaches an authenticated socket to a room.
func (reg *Registry) Bind(connID string, roomID uuid.UUID) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.conns[connID]
	if !ok {
		return ErrPlayerNotFound
	}
	if _, ok := reg.sessions[roomID]; !ok {
		return ErrRoomNotFound
	}
	c.room = roomID
	reg.conns[connID] = c
	return nil
}

// Unbind detaches a socket from its room without disconnecting it.
func (reg *Registry) Unbind(connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if c, ok := reg.conns[connID]; ok {
		c.room = uuid.Nil
		reg.conns[connID] = c
	}
}

// PlayerFor returns the player behind an authenticated socket.
func (reg *Registry) PlayerFor(connID string) (uuid.UUID, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.conns[connID]
	return c.player, ok
}

// RoomFor returns the room a socket is bound to.
func (reg *Registry) RoomFor(connID string) (uuid.UUID, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.conns[connID]
	if !ok || c.room == uuid.Nil {
		return uuid.Nil, false
	}
	return c.room, true
}

// Disconnect forgets a socket and tells its room. Membership and tickets are kept.
func (reg *Registry) Disconnect(ctx context.Context, connID string) {
	reg.mu.Lock()
	c, ok := reg.conns[connID]
	delete(reg.conns, connID)
	reg.mu.Unlock()
	if !ok || c.room == uuid.Nil || reg.deps.Bus == nil {
		return
	}
	err := reg.deps.Bus.Publish(ctx, RoomTopic(c.room), EventPlayerDisconnected, map[string]any{
		"room_id":   c.room,
		"player_id": c.player,
	})
	if err != nil {
		reg.log.WithError(err).WithField("room", c.room).Warn("publish disconnect")
	}
}

// Close stops background work in every session.
func (reg *Registry) Close() {
	reg.mu.RLock()
	sessions := make([]*Session, 0, len(reg.sessions))
	for _, s := range reg.sessions {
		sessions = append(sessions, s)
	}
	reg.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}
