// internal/room/session.go
package room

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/models"
	"github.com/sirupsen/logrus"
)

// OnClosedFunc is invoked once when a room completes or is cancelled.
type OnClosedFunc func(roomID uuid.UUID)

// snapshot is the last committed state. Nothing it points to is modified after it is stored.
type snapshot struct {
	room    *models.Room
	tickets []*models.Ticket
}

// Session owns one room while it is live. Every mutating operation holds mu for its whole
// validate, persist, apply and publish sequence; reads use the committed snapshot.
//
// Room and ticket values are copy-on-write: an operation clones what it changes, persists the
// clones, and only then swaps them in. A failed operation leaves the session untouched.
type Session struct {
	ID   uuid.UUID
	deps *Deps
	log  logrus.FieldLogger

	mu          sync.Mutex
	room        *models.Room
	tickets     []*models.Ticket
	byID        map[uuid.UUID]*models.Ticket
	actionIndex int
	closed      bool
	stopAuto    context.CancelFunc

	snap atomic.Pointer[snapshot]

	// OnClosed is invoked at completion or cancellation, typically to retire the session.
	OnClosed OnClosedFunc
}

// NewSession wraps an existing room and its tickets. deps must already carry defaults.
func NewSession(deps *Deps, r *models.Room, tickets []*models.Ticket) *Session {
	s := &Session{
		ID:      r.ID,
		deps:    deps,
		log:     deps.Log.WithFields(logrus.Fields{"room": r.ID, "code": r.Code}),
		room:    r,
		tickets: slices.Clone(tickets),
		byID:    make(map[uuid.UUID]*models.Ticket, len(tickets)),
	}
	if s.room.Spend == nil {
		s.room.Spend = make(map[uuid.UUID]int64)
	}
	for _, t := range s.tickets {
		s.byID[t.ID] = t
	}
	s.publishSnapshot()
	return s
}

// Room returns the last committed room state. Callers must not modify it.
func (s *Session) Room() *models.Room {
	return s.snap.Load().room
}

// Tickets returns every ticket in issue order. Callers must not modify them.
func (s *Session) Tickets() []*models.Ticket {
	return s.snap.Load().tickets
}

// TicketsFor returns the tickets held by playerID.
func (s *Session) TicketsFor(playerID uuid.UUID) []*models.Ticket {
	var out []*models.Ticket
	for _, t := range s.snap.Load().tickets {
		if t.PlayerID == playerID {
			out = append(out, t)
		}
	}
	return out
}

// Winners returns recorded winners, ranked once the room has completed.
func (s *Session) Winners() []models.Winner {
	return s.snap.Load().room.Winners
}

func (s *Session) publishSnapshot() {
	s.snap.Store(&snapshot{room: s.room, tickets: s.tickets})
}

// Join adds playerID to the room and issues a free ticket if they hold none. Joining a room
// the player is already in changes nothing and resends them the room snapshot. The issued
// ticket, if any, is returned.
func (s *Session) Join(ctx context.Context, playerID uuid.UUID, password string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	p, err := s.deps.Players.GetPlayer(opCtx, playerID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, s.internal("get player", err)
	}
	if p.Banned {
		return nil, ErrBanned
	}

	r := s.room
	if r.HasPlayer(playerID) {
		// reconnecting members get a fresh snapshot
		s.publish(PlayerTopic(playerID), EventRoomJoined, map[string]any{
			"room":    r,
			"tickets": s.ticketsOf(playerID),
		})
		return nil, nil
	}
	switch {
	case r.Status.Terminal():
		return nil, ErrRoomClosed
	case r.Status != models.RoomWaiting:
		return nil, ErrGameStarted
	}
	if len(r.Players) >= r.MaxPlayers {
		return nil, ErrRoomFull
	}
	if r.PasswordHash != "" {
		ok, err := auth.VerifyRoomPassword(password, r.PasswordHash)
		if err != nil {
			return nil, s.internal("compare room password", err)
		}
		if !ok {
			return nil, ErrWrongPassword
		}
	}

	now := s.deps.Now()
	member := models.RoomPlayer{ID: p.ID, Name: p.Name, AvatarRef: p.AvatarRef, JoinedAt: now}
	next := r.Clone()
	next.Players = append(next.Players, member)

	var issued []*models.Ticket
	if !s.holdsTicket(playerID) {
		issued = append(issued, s.issue(next, member, true, now))
	}
	if err := s.commit(opCtx, next, issued); err != nil {
		return nil, err
	}

	s.publish(RoomTopic(s.ID), EventPlayerJoined, map[string]any{
		"room_id":         s.ID,
		"player":          member,
		"current_players": len(next.Players),
	})
	s.publish(PlayerTopic(playerID), EventRoomJoined, map[string]any{
		"room":    next,
		"tickets": s.ticketsOf(playerID),
	})
	var free *models.Ticket
	if len(issued) > 0 {
		free = issued[0]
		s.publish(PlayerTopic(playerID), EventTicketAssigned, map[string]any{"ticket": free})
	}
	s.logAction(playerID, "player_join", map[string]any{"free_ticket": free != nil})
	s.log.WithField("player", playerID).Info("player joined")
	return free, nil
}

// Leave removes playerID from a waiting room. Their tickets stay issued. Once the game is
// running leaving only notifies the room.
func (s *Session) Leave(ctx context.Context, playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room
	if r.Status.Terminal() {
		return ErrRoomClosed
	}
	if !r.HasPlayer(playerID) {
		return ErrNotMember
	}
	if playerID == r.HostID {
		return ErrHostCannotLeave
	}

	if r.Status == models.RoomWaiting {
		opCtx, cancel := s.opCtx(ctx)
		defer cancel()
		next := r.Clone()
		next.Players = slices.DeleteFunc(next.Players, func(p models.RoomPlayer) bool { return p.ID == playerID })
		if err := s.commit(opCtx, next, nil); err != nil {
			return err
		}
	}

	s.publish(RoomTopic(s.ID), EventPlayerLeft, map[string]any{
		"room_id":         s.ID,
		"player_id":       playerID,
		"current_players": len(s.room.Players),
	})
	s.logAction(playerID, "player_leave", nil)
	return nil
}

// PurchaseTickets debits the wallet and issues qty tickets to playerID.
func (s *Session) PurchaseTickets(ctx context.Context, playerID uuid.UUID, qty int) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room
	switch {
	case r.Status.Terminal():
		return nil, ErrRoomClosed
	case r.Status != models.RoomWaiting:
		return nil, ErrGameStarted
	}
	idx := slices.IndexFunc(r.Players, func(p models.RoomPlayer) bool { return p.ID == playerID })
	if idx < 0 {
		return nil, ErrNotMember
	}
	if qty < 1 || qty > s.deps.MaxTicketsPerPurchase {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidQuantity, s.deps.MaxTicketsPerPurchase)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	cost := r.TicketPrice * int64(qty)
	reason := fmt.Sprintf("Purchased %d ticket(s) for room %s", qty, r.Name)
	var balance int64
	if cost > 0 {
		bal, err := s.deps.Wallet.Balance(opCtx, playerID)
		if err != nil {
			return nil, s.internal("wallet balance", err)
		}
		if bal < cost {
			return nil, ErrInsufficientFunds
		}
		balance, err = s.deps.Wallet.Debit(opCtx, playerID, cost, reason)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return nil, ErrInsufficientFunds
			}
			return nil, s.internal("wallet debit", err)
		}
	}

	now := s.deps.Now()
	next := r.Clone()
	issued := make([]*models.Ticket, 0, qty)
	for i := 0; i < qty; i++ {
		issued = append(issued, s.issue(next, r.Players[idx], false, now))
	}
	next.PrizePool += int64(math.Round(float64(cost) * s.deps.PrizePoolShare))
	next.Spend[playerID] += cost

	if err := s.commit(opCtx, next, issued); err != nil {
		if cost > 0 {
			s.compensate(opCtx, playerID, cost, "Refund for failed ticket purchase")
		}
		return nil, err
	}

	if cost > 0 {
		s.record(opCtx, &models.Transaction{
			PlayerID:     playerID,
			Amount:       cost,
			Type:         models.TransactionDebit,
			Reason:       reason,
			BalanceAfter: balance,
			RoomID:       s.ID,
			TicketID:     &issued[0].ID,
			CreatedAt:    now,
		})
	}

	for _, t := range issued {
		s.publish(PlayerTopic(playerID), EventTicketAssigned, map[string]any{"ticket": t})
	}
	s.publish(RoomTopic(s.ID), EventTicketsPurchased, map[string]any{
		"room_id":      s.ID,
		"player_id":    playerID,
		"quantity":     qty,
		"tickets_sold": next.TicketsIssued,
		"prize_pool":   next.PrizePool,
	})
	s.logAction(playerID, "tickets_purchased", map[string]any{"quantity": qty, "cost": cost})
	s.log.WithFields(logrus.Fields{"player": playerID, "quantity": qty, "cost": cost}).Info("tickets purchased")
	return issued, nil
}

// Start moves a waiting room to active. Only the host may start it.
func (s *Session) Start(ctx context.Context, hostID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room
	if hostID != r.HostID {
		return ErrNotHost
	}
	switch {
	case r.Status.Terminal():
		return ErrRoomClosed
	case r.Status != models.RoomWaiting:
		return ErrGameStarted
	}
	if len(r.Players) < r.MinPlayers {
		return ErrNotEnoughPlayers
	}
	if r.TicketsIssued == 0 || len(s.tickets) == 0 {
		return ErrNoTickets
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.deps.Now()
	next := r.Clone()
	next.Status = models.RoomActive
	next.IsPaused = false
	next.StartedAt = &now
	if err := s.commit(opCtx, next, nil); err != nil {
		return err
	}

	s.publish(RoomTopic(s.ID), EventGameStarted, map[string]any{
		"room":    next,
		"tickets": s.tickets,
	})
	s.logAction(hostID, "game_start", map[string]any{"players": len(next.Players), "tickets": len(s.tickets)})
	s.log.Info("game started")
	if next.AutoCallInterval > 0 {
		s.startAutoCaller(next.AutoCallInterval)
	}
	return nil
}

// Pause sets the paused flag. The auto-caller skips ticks while paused.
func (s *Session) Pause(ctx context.Context, hostID uuid.UUID) error {
	return s.setPaused(ctx, hostID, true)
}

// Resume clears the paused flag.
func (s *Session) Resume(ctx context.Context, hostID uuid.UUID) error {
	return s.setPaused(ctx, hostID, false)
}

func (s *Session) setPaused(ctx context.Context, hostID uuid.UUID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room
	if hostID != r.HostID {
		return ErrNotHost
	}
	if err := s.requireActive(); err != nil {
		return err
	}
	if r.IsPaused == paused {
		return nil
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	next := r.Clone()
	next.IsPaused = paused
	if err := s.commit(opCtx, next, nil); err != nil {
		return err
	}

	event, action := EventGameResumed, "game_resume"
	if paused {
		event, action = EventGamePaused, "game_pause"
	}
	s.publish(RoomTopic(s.ID), event, map[string]any{"room_id": s.ID, "is_paused": paused})
	s.logAction(hostID, action, nil)
	return nil
}

// Close stops background work without changing room state. Used at shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAutoCaller()
}

func (s *Session) requireActive() error {
	switch {
	case s.room.Status.Terminal():
		return ErrRoomClosed
	case s.room.Status != models.RoomActive:
		return ErrNotActive
	}
	return nil
}

func (s *Session) holdsTicket(playerID uuid.UUID) bool {
	return slices.ContainsFunc(s.tickets, func(t *models.Ticket) bool { return t.PlayerID == playerID })
}

func (s *Session) ticketsOf(playerID uuid.UUID) []*models.Ticket {
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.PlayerID == playerID {
			out = append(out, t)
		}
	}
	return out
}

// issue generates the next sequential ticket for member, counting it on next.
func (s *Session) issue(next *models.Room, member models.RoomPlayer, free bool, now time.Time) *models.Ticket {
	next.TicketsIssued++
	t := s.deps.Generator.Generate(next.TicketsIssued)
	t.ID = uuid.New()
	t.PlayerID = member.ID
	t.PlayerName = member.Name
	t.RoomID = next.ID
	t.Free = free
	t.IssuedAt = now
	return t
}

// opCtx detaches collaborator calls from the caller so a dropped client cannot leave an
// operation half applied.
func (s *Session) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.deps.StoreTimeout)
}

// commit persists changed tickets and next, then installs them. Nothing is installed when
// persistence fails.
func (s *Session) commit(ctx context.Context, next *models.Room, changed []*models.Ticket) error {
	if len(changed) > 0 {
		if err := s.deps.Store.PutTickets(ctx, changed); err != nil {
			return s.internal("persist tickets", err)
		}
	}
	if err := s.deps.Store.PutRoom(ctx, next); err != nil {
		return s.internal("persist room", err)
	}

	s.room = next
	if len(changed) > 0 {
		tickets := slices.Clone(s.tickets)
		for _, t := range changed {
			if _, ok := s.byID[t.ID]; ok {
				i := slices.IndexFunc(tickets, func(x *models.Ticket) bool { return x.ID == t.ID })
				tickets[i] = t
			} else {
				tickets = append(tickets, t)
			}
			s.byID[t.ID] = t
		}
		s.tickets = tickets
	}
	s.publishSnapshot()
	return nil
}

func (s *Session) internal(op string, err error) error {
	s.log.WithError(err).WithField("op", op).Error("room operation failed")
	return fmt.Errorf("%w: %s", ErrInternal, op)
}

// compensate reverses a debit whose operation could not be committed.
func (s *Session) compensate(ctx context.Context, playerID uuid.UUID, amount int64, reason string) {
	if _, err := s.deps.Wallet.Credit(ctx, playerID, amount, reason); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"player": playerID, "amount": amount}).
			Error("compensating credit failed")
	}
}

// record writes a ledger line. The wallet has already moved, so a failure is only logged.
func (s *Session) record(ctx context.Context, tx *models.Transaction) {
	if s.deps.Ledger == nil {
		return
	}
	if err := s.deps.Ledger.Record(ctx, tx); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"player": tx.PlayerID, "amount": tx.Amount}).
			Error("ledger record failed")
	}
}

func (s *Session) publish(topic Topic, event string, payload any) {
	if s.deps.Bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.StoreTimeout)
	defer cancel()
	if err := s.deps.Bus.Publish(ctx, topic, event, payload); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"topic": topic, "event": event}).Warn("publish failed")
	}
}

// logAction queues an action record for the historian. Caller holds mu.
func (s *Session) logAction(actorID uuid.UUID, actionType string, payload map[string]any) {
	if s.deps.Actions == nil {
		return
	}
	s.actionIndex++
	if payload == nil {
		payload = make(map[string]any)
	}
	rec := models.ActionRecord{
		RoomID:        s.ID,
		ActionIndex:   s.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     s.deps.Now().UnixMilli(),
	}
	go func(rec models.ActionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Actions.LogAction(ctx, rec); err != nil {
			s.log.WithError(err).WithField("action", rec.ActionIndex).Warn("failed to queue room action")
		}
	}(rec)
}
