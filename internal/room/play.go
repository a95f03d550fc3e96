// internal/room/play.go
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/validator"
	"github.com/sirupsen/logrus"
)

// CallNumber calls n, or a random uncalled number when n is nil, and marks every ticket
// holding it. When no numbers remain the game completes instead and 0 is returned.
// Manual calls are accepted while paused.
func (s *Session) CallNumber(ctx context.Context, hostID uuid.UUID, n *int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostID != s.room.HostID {
		return 0, ErrNotHost
	}
	if err := s.requireActive(); err != nil {
		return 0, err
	}
	return s.callLocked(ctx, hostID, n)
}

func (s *Session) callLocked(ctx context.Context, actorID uuid.UUID, n *int) (int, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	r := s.room
	var num int
	if n != nil {
		num = *n
		if num < 1 || num > models.MaxNumber {
			return 0, ErrInvalidNumber
		}
		if r.IsCalled(num) {
			return 0, ErrAlreadyCalled
		}
	} else {
		left := uncalled(r)
		if len(left) == 0 {
			return 0, s.completeLocked(opCtx, actorID, "numbers exhausted")
		}
		num = left[rand.IntN(len(left))]
	}

	next := r.Clone()
	next.Called = append(next.Called, num)
	next.CurrentNumber = num

	var changed []*models.Ticket
	for _, t := range s.tickets {
		if !t.Has(num) || t.IsMarked(num) {
			continue
		}
		c := t.Clone()
		c.Mark(num)
		changed = append(changed, c)
	}
	if err := s.commit(opCtx, next, changed); err != nil {
		return 0, err
	}

	for _, t := range changed {
		s.publish(PlayerTopic(t.PlayerID), EventTicketUpdated, map[string]any{
			"ticket_id":      t.ID,
			"ticket_number":  t.Number,
			"number":         num,
			"marked_numbers": t.Marked,
		})
	}
	s.publish(RoomTopic(s.ID), EventNumberCalled, map[string]any{
		"room_id":        s.ID,
		"number":         num,
		"called_numbers": next.Called,
		"remaining":      next.Remaining(),
	})
	s.logAction(actorID, "number_called", map[string]any{"number": num, "marked_tickets": len(changed)})

	if len(next.Called) == models.MaxNumber {
		if err := s.completeLocked(opCtx, actorID, "all numbers called"); err != nil {
			s.log.WithError(err).Warn("completion after final call failed; will retry on next call")
		}
	}
	return num, nil
}

func uncalled(r *models.Room) []int {
	seen := make([]bool, models.MaxNumber+1)
	for _, n := range r.Called {
		seen[n] = true
	}
	out := make([]int, 0, models.MaxNumber-len(r.Called))
	for n := 1; n <= models.MaxNumber; n++ {
		if !seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// ClaimPrize validates a claim by playerID that ticketID satisfies prize, then records the
// winner and pays out. The existing-winner check and the insert happen under the room lock.
func (s *Session) ClaimPrize(ctx context.Context, playerID, ticketID uuid.UUID, prize string) (*models.Winner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActive(); err != nil {
		return nil, err
	}
	r := s.room

	kind, err := models.ParsePrizeKind(prize)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrize, prize)
	}
	cfg, ok := r.Prize(kind)
	if !ok || !cfg.Enabled || kind == models.PrizeStar {
		return nil, ErrPrizeNotConfigured
	}

	t, ok := s.byID[ticketID]
	if !ok || t.RoomID != r.ID {
		return nil, ErrTicketNotFound
	}
	if t.PlayerID != playerID {
		return nil, ErrNotYourTicket
	}
	for _, w := range r.Winners {
		if w.Kind != kind {
			continue
		}
		if !cfg.AllowsMultipleWinners {
			return nil, ErrAlreadyClaimed
		}
		if w.PlayerID == playerID {
			return nil, ErrAlreadyWon
		}
	}
	if !validator.IsWinner(t, r.Called, kind) {
		return nil, ErrConditionNotMet
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.deps.Now()
	w := models.Winner{
		ID:           uuid.New(),
		RoomID:       r.ID,
		Kind:         kind,
		PlayerID:     playerID,
		PlayerName:   t.PlayerName,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		Amount:       cfg.Amount,
		ClaimedAt:    now,
		Validated:    true,
	}
	reason := fmt.Sprintf("Won %s in room %s", kind, r.Name)

	var balance int64
	if w.Amount > 0 {
		balance, err = s.deps.Wallet.Credit(opCtx, playerID, w.Amount, reason)
		if err != nil {
			return nil, s.internal("wallet credit", err)
		}
	}

	next := r.Clone()
	next.Winners = append(next.Winners, w)
	if err := s.deps.Store.PutWinner(opCtx, &w); err != nil {
		s.reverseCredit(opCtx, playerID, w.Amount)
		return nil, s.internal("persist winner", err)
	}
	if err := s.commit(opCtx, next, nil); err != nil {
		s.reverseCredit(opCtx, playerID, w.Amount)
		return nil, err
	}

	if w.Amount > 0 {
		s.record(opCtx, &models.Transaction{
			PlayerID:     playerID,
			Amount:       w.Amount,
			Type:         models.TransactionCredit,
			Reason:       reason,
			BalanceAfter: balance,
			RoomID:       s.ID,
			TicketID:     &w.TicketID,
			CreatedAt:    now,
		})
	}

	s.publish(RoomTopic(s.ID), EventPrizeWon, map[string]any{
		"room_id":       s.ID,
		"winner":        w,
		"prize_type":    kind,
		"user_name":     w.PlayerName,
		"ticket_number": w.TicketNumber,
		"amount":        w.Amount,
	})
	s.logAction(playerID, "prize_won", map[string]any{"prize_type": kind, "ticket_id": t.ID})
	s.log.WithFields(logrus.Fields{"player": playerID, "prize": kind}).Info("prize won")
	return &w, nil
}

// reverseCredit takes back a payout whose claim could not be committed.
func (s *Session) reverseCredit(ctx context.Context, playerID uuid.UUID, amount int64) {
	if amount <= 0 {
		return
	}
	if _, err := s.deps.Wallet.Debit(ctx, playerID, amount, "Reversal of failed prize payout"); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"player": playerID, "amount": amount}).
			Error("payout reversal failed")
	}
}

// End completes an active game on the host's request.
func (s *Session) End(ctx context.Context, hostID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostID != s.room.HostID {
		return ErrNotHost
	}
	if err := s.requireActive(); err != nil {
		return err
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.completeLocked(opCtx, hostID, "ended by host")
}

// Cancel closes a waiting room and refunds every ticket purchase made in it.
func (s *Session) Cancel(ctx context.Context, hostID uuid.UUID) error {
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

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	reason := fmt.Sprintf("Refund for cancelled room %s", r.Name)
	refunded := make(map[uuid.UUID]int64)
	balances := make(map[uuid.UUID]int64)
	var refundErr error
	for playerID, amount := range r.Spend {
		if amount <= 0 {
			continue
		}
		bal, err := s.deps.Wallet.Credit(opCtx, playerID, amount, reason)
		if err != nil {
			refundErr = err
			break
		}
		refunded[playerID] = amount
		balances[playerID] = bal
	}
	if refundErr != nil {
		s.undoRefunds(opCtx, refunded)
		return s.internal("refund", refundErr)
	}

	now := s.deps.Now()
	next := r.Clone()
	next.Status = models.RoomCancelled
	next.CompletedAt = &now
	next.PrizePool = 0
	next.Spend = make(map[uuid.UUID]int64)
	if err := s.commit(opCtx, next, nil); err != nil {
		s.undoRefunds(opCtx, refunded)
		return err
	}

	for playerID, amount := range refunded {
		s.record(opCtx, &models.Transaction{
			PlayerID:     playerID,
			Amount:       amount,
			Type:         models.TransactionCredit,
			Reason:       reason,
			BalanceAfter: balances[playerID],
			RoomID:       s.ID,
			CreatedAt:    now,
		})
	}

	s.publish(RoomTopic(s.ID), EventGameCancelled, map[string]any{"room_id": s.ID, "refunds": refunded})
	s.publish(LobbyTopic, EventGameCancelled, map[string]any{"room_id": s.ID})
	s.logAction(hostID, "game_cancel", map[string]any{"refunds": len(refunded)})
	s.log.WithField("refunds", len(refunded)).Info("room cancelled")
	s.closeLocked()
	return nil
}

func (s *Session) undoRefunds(ctx context.Context, refunded map[uuid.UUID]int64) {
	for playerID, amount := range refunded {
		if _, err := s.deps.Wallet.Debit(ctx, playerID, amount, "Reversal of failed refund"); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"player": playerID, "amount": amount}).
				Error("refund reversal failed")
		}
	}
}

// completeLocked finishes the game: ranks winners, persists and announces the result. It
// runs at most once per room.
func (s *Session) completeLocked(ctx context.Context, actorID uuid.UUID, reason string) error {
	if s.room.Status == models.RoomCompleted {
		return nil
	}

	now := s.deps.Now()
	next := s.room.Clone()
	next.Status = models.RoomCompleted
	next.IsPaused = false
	next.CompletedAt = &now
	next.Winners = validator.RankWinners(next.Winners)

	for i := range next.Winners {
		if err := s.deps.Store.PutWinner(ctx, &next.Winners[i]); err != nil {
			return s.internal("persist ranked winner", err)
		}
	}
	if err := s.commit(ctx, next, nil); err != nil {
		return err
	}

	s.publish(RoomTopic(s.ID), EventGameCompleted, map[string]any{
		"room_id":        s.ID,
		"reason":         reason,
		"winners":        next.Winners,
		"called_numbers": next.Called,
	})
	s.logAction(actorID, "game_complete", map[string]any{"reason": reason, "winners": len(next.Winners)})
	s.log.WithFields(logrus.Fields{"reason": reason, "winners": len(next.Winners)}).Info("game completed")
	s.closeLocked()
	return nil
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.stopAutoCaller()
	if s.OnClosed != nil {
		s.OnClosed(s.ID)
	}
}

// startAutoCaller calls a number every interval until the room closes. Caller holds mu.
func (s *Session) startAutoCaller(interval time.Duration) {
	s.stopAutoCaller()
	ctx, cancel := context.WithCancel(context.Background())
	s.stopAuto = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.autoCall(ctx)
			}
		}
	}()
}

func (s *Session) stopAutoCaller() {
	if s.stopAuto != nil {
		s.stopAuto()
		s.stopAuto = nil
	}
}

func (s *Session) autoCall(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.room.Status != models.RoomActive || s.room.IsPaused {
		return
	}
	if _, err := s.callLocked(ctx, s.room.HostID, nil); err != nil && !errors.Is(err, ErrAlreadyCalled) {
		s.log.WithError(err).Warn("auto call failed")
	}
}
