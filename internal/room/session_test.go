// internal/room/session_test.go
package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/models"
	"github.com/rag2504/tambola/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTopLineClaimFlow plays a two player game until alice completes her top line.
func TestTopLineClaimFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)

	at, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	require.NotNil(t, at)
	bt, err := s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	require.NotNil(t, bt)
	assert.Equal(t, 1, at.Number)
	assert.Equal(t, 2, bt.Number)
	assert.True(t, at.Free)

	require.NoError(t, s.Start(ctx, f.host))
	assert.Equal(t, models.RoomActive, s.Room().Status)

	f.call(t, s, at.Grid.Row(0)...)

	w, err := s.ClaimPrize(ctx, f.alice, at.ID, "Top Line")
	require.NoError(t, err)
	assert.Equal(t, models.PrizeTopLine, w.Kind)
	assert.True(t, w.Validated)
	assert.Equal(t, int64(100), f.wallet.balance(f.alice))
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventPrizeWon))

	_, err = s.ClaimPrize(ctx, f.bob, bt.ID, "top_line")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Len(t, s.Winners(), 1)

	txs := f.ledger.all()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionCredit, txs[0].Type)
	assert.Equal(t, int64(100), txs[0].BalanceAfter)
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		ctx := context.Background()
		s := f.startedRoom(t)
		at := onlyTicket(t, s, f.alice)
		bt := onlyTicket(t, s, f.bob)
		f.call(t, s, at.Grid.Row(0)...)
		f.call(t, s, bt.Grid.Row(0)...)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		claim := func(i int, player, ticketID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = s.ClaimPrize(ctx, player, ticketID, "TOP_LINE")
		}
		wg.Add(2)
		go claim(0, f.alice, at.ID)
		go claim(1, f.bob, bt.ID)
		wg.Wait()

		ok, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyClaimed):
				conflicts++
			}
		}
		require.Equal(t, 1, ok, "round %d: %v", round, errs)
		require.Equal(t, 1, conflicts, "round %d: %v", round, errs)
		require.Len(t, s.Winners(), 1)
	}
}

func TestMultiWinnerPrizeOncePerPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	extra, err := s.PurchaseTickets(ctx, f.alice, 1)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, f.host))

	alice := s.TicketsFor(f.alice)
	require.Len(t, alice, 2)
	bt := onlyTicket(t, s, f.bob)
	for _, tk := range append(alice, bt) {
		f.call(t, s, tk.Grid.Row(1)...)
	}

	_, err = s.ClaimPrize(ctx, f.alice, alice[0].ID, "middle_line")
	require.NoError(t, err)
	_, err = s.ClaimPrize(ctx, f.alice, extra[0].ID, "middle_line")
	assert.ErrorIs(t, err, ErrAlreadyWon)
	_, err = s.ClaimPrize(ctx, f.bob, bt.ID, "middle-line")
	require.NoError(t, err)
	assert.Len(t, s.Winners(), 2)
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)
	at := onlyTicket(t, s, f.alice)

	_, err := s.ClaimPrize(ctx, f.alice, at.ID, "top_line")
	assert.ErrorIs(t, err, ErrConditionNotMet)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = s.ClaimPrize(ctx, f.alice, at.ID, "star")
	assert.ErrorIs(t, err, ErrPrizeNotConfigured)

	_, err = s.ClaimPrize(ctx, f.alice, at.ID, "four_corners")
	assert.ErrorIs(t, err, ErrPrizeNotConfigured)

	_, err = s.ClaimPrize(ctx, f.alice, at.ID, "jackpot")
	assert.ErrorIs(t, err, ErrUnknownPrize)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = s.ClaimPrize(ctx, f.bob, at.ID, "top_line")
	assert.ErrorIs(t, err, ErrNotYourTicket)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = s.ClaimPrize(ctx, f.alice, uuid.New(), "top_line")
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Empty(t, s.Winners())
	assert.Zero(t, f.wallet.balance(f.alice))
}

func TestClaimBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)
	at, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	_, err = s.ClaimPrize(ctx, f.alice, at.ID, "early_five")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestPrivateRoomPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, func(p *CreateRoomParams) {
		p.Type = models.RoomPrivate
		p.Password = "abc123"
	})
	assert.NotEmpty(t, s.Room().PasswordHash)
	assert.NotEqual(t, "abc123", s.Room().PasswordHash)

	_, err := s.Join(ctx, f.alice, "")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = s.Join(ctx, f.alice, "abc124")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.False(t, s.Room().HasPlayer(f.alice))

	tk, err := s.Join(ctx, f.alice, "abc123")
	require.NoError(t, err)
	assert.NotNil(t, tk)
	assert.True(t, s.Room().HasPlayer(f.alice))
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, func(p *CreateRoomParams) { p.MaxPlayers = 2 })

	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	again, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err, "joining twice is idempotent")
	assert.Nil(t, again)
	assert.Len(t, s.Tickets(), 1)
	assert.Len(t, s.Room().Players, 1)

	_, err = s.Join(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	banned := f.addPlayer("Mallory", true)
	_, err = s.Join(ctx, banned, "")
	assert.ErrorIs(t, err, ErrBanned)

	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	carol := f.addPlayer("Carol", false)
	_, err = s.Join(ctx, carol, "")
	assert.ErrorIs(t, err, ErrRoomFull)

	assert.Equal(t, 1, f.bus.count(PlayerTopic(f.alice), EventTicketAssigned))
	assert.Equal(t, 2, f.bus.count(PlayerTopic(f.alice), EventRoomJoined), "a repeated join resends the snapshot")
	assert.Equal(t, 2, f.bus.count(RoomTopic(s.ID), EventPlayerJoined))
}

func TestJoinAfterStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)

	_, err := s.Join(ctx, f.alice, "")
	assert.NoError(t, err, "members may reconnect to a running game")

	carol := f.addPlayer("Carol", false)
	_, err = s.Join(ctx, carol, "")
	assert.ErrorIs(t, err, ErrGameStarted)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)

	require.NoError(t, s.Leave(ctx, f.alice))
	assert.False(t, s.Room().HasPlayer(f.alice))
	assert.Len(t, s.TicketsFor(f.alice), 1, "tickets survive leaving")
	assert.ErrorIs(t, s.Leave(ctx, f.alice), ErrNotMember)

	// rejoining does not issue a second free ticket
	tk, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	assert.Nil(t, tk)
	assert.Len(t, s.TicketsFor(f.alice), 1)
}

func TestPurchaseTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, func(p *CreateRoomParams) { p.TicketPrice = 10 })
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	f.wallet.balances[f.alice] = 25

	_, err = s.PurchaseTickets(ctx, f.alice, 11)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = s.PurchaseTickets(ctx, f.alice, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = s.PurchaseTickets(ctx, f.alice, 3)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.Equal(t, int64(25), f.wallet.balance(f.alice))
	assert.Zero(t, f.wallet.debits)
	assert.Len(t, s.TicketsFor(f.alice), 1)

	bought, err := s.PurchaseTickets(ctx, f.alice, 2)
	require.NoError(t, err)
	require.Len(t, bought, 2)
	assert.Equal(t, 2, bought[0].Number)
	assert.Equal(t, 3, bought[1].Number)
	assert.False(t, bought[0].Free)
	assert.Equal(t, int64(5), f.wallet.balance(f.alice))

	r := s.Room()
	assert.Equal(t, 3, r.TicketsIssued)
	assert.Equal(t, int64(16), r.PrizePool)
	assert.Equal(t, int64(20), r.Spend[f.alice])

	txs := f.ledger.all()
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionDebit, txs[0].Type)
	assert.Equal(t, int64(20), txs[0].Amount)
	assert.Equal(t, int64(5), txs[0].BalanceAfter)

	_, err = s.PurchaseTickets(ctx, f.bob, 1)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestPurchaseCompensatesOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, func(p *CreateRoomParams) { p.TicketPrice = 10 })
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	f.wallet.balances[f.alice] = 100
	before := s.Room()

	f.store.setFail(true, false)
	_, err = s.PurchaseTickets(ctx, f.alice, 2)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, int64(100), f.wallet.balance(f.alice))
	assert.Same(t, before, s.Room())
	assert.Len(t, s.TicketsFor(f.alice), 1)
	assert.Empty(t, f.ledger.all())

	f.store.setFail(false, false)
	_, err = s.PurchaseTickets(ctx, f.alice, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(80), f.wallet.balance(f.alice))
}

func TestStartRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(ctx, f.alice), ErrNotHost)
	assert.ErrorIs(t, s.Start(ctx, f.host), ErrNotEnoughPlayers)
	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, f.host))
	assert.NotNil(t, s.Room().StartedAt)
	assert.ErrorIs(t, s.Start(ctx, f.host), ErrGameStarted)
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventGameStarted))

	_, err = s.PurchaseTickets(ctx, f.alice, 1)
	assert.ErrorIs(t, err, ErrGameStarted)
}

func TestCallNumberRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)

	for _, bad := range []int{0, -3, 91} {
		n := bad
		_, err := s.CallNumber(ctx, f.host, &n)
		assert.ErrorIs(t, err, ErrInvalidNumber, "number %d", bad)
	}

	n := 42
	got, err := s.CallNumber(ctx, f.host, &n)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	_, err = s.CallNumber(ctx, f.host, &n)
	assert.ErrorIs(t, err, ErrAlreadyCalled)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, []int{42}, s.Room().Called)
	assert.Equal(t, 42, s.Room().CurrentNumber)

	_, err = s.CallNumber(ctx, f.alice, nil)
	assert.ErrorIs(t, err, ErrNotHost)

	random, err := s.CallNumber(ctx, f.host, nil)
	require.NoError(t, err)
	assert.NotEqual(t, 42, random)
	assert.Len(t, s.Room().Called, 2)
}

func TestCallMarksTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)
	at := onlyTicket(t, s, f.alice)
	target := at.Numbers[0]

	_, err := s.CallNumber(ctx, f.host, &target)
	require.NoError(t, err)

	updated := onlyTicket(t, s, f.alice)
	assert.Equal(t, []int{target}, updated.Marked)
	assert.Empty(t, at.Marked, "published tickets are never mutated")
	assert.Equal(t, 1, f.bus.count(PlayerTopic(f.alice), EventTicketUpdated))
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventNumberCalled))

	for _, tk := range s.Tickets() {
		for _, k := range models.AllPrizeKinds {
			assert.Equal(t, validator.IsWinner(tk, s.Room().Called, k), validator.IsWinnerMarked(tk, k))
		}
	}
}

func TestNinetyCallsCompleteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)

	closed := 0
	s.OnClosed = func(id uuid.UUID) {
		closed++
		f.reg.Retire(id)
	}

	for i := 0; i < models.MaxNumber; i++ {
		_, err := s.CallNumber(ctx, f.host, nil)
		require.NoError(t, err, "call %d", i+1)
	}
	r := s.Room()
	assert.Equal(t, models.RoomCompleted, r.Status)
	assert.Len(t, r.Called, models.MaxNumber)
	assert.NotNil(t, r.CompletedAt)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventGameCompleted))

	_, err := s.CallNumber(ctx, f.host, nil)
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.ErrorIs(t, s.End(ctx, f.host), ErrRoomClosed)
	assert.Equal(t, 1, closed)

	_, err = f.reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	for _, tk := range s.Tickets() {
		assert.Len(t, tk.Marked, models.NumbersPerTicket)
	}
}

func TestEndRanksWinners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)
	at := onlyTicket(t, s, f.alice)
	bt := onlyTicket(t, s, f.bob)

	f.call(t, s, at.Grid.Row(0)...)
	_, err := s.ClaimPrize(ctx, f.alice, at.ID, "top_line")
	require.NoError(t, err)

	f.call(t, s, bt.Numbers[:5]...)
	_, err = s.ClaimPrize(ctx, f.bob, bt.ID, "early_five")
	require.NoError(t, err)

	assert.ErrorIs(t, s.End(ctx, f.alice), ErrNotHost)
	require.NoError(t, s.End(ctx, f.host))

	winners := s.Winners()
	require.Len(t, winners, 2)
	assert.Equal(t, models.PrizeEarlyFive, winners[0].Kind)
	assert.Equal(t, 1, winners[0].Rank)
	assert.Equal(t, models.PrizeTopLine, winners[1].Kind)
	assert.Equal(t, 2, winners[1].Rank)

	stored, err := f.store.ListWinnersByRoom(ctx, s.ID)
	require.NoError(t, err)
	for _, w := range stored {
		assert.NotZero(t, w.Rank)
	}
	_, err = f.reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.startedRoom(t)

	assert.ErrorIs(t, s.Pause(ctx, f.alice), ErrNotHost)
	require.NoError(t, s.Pause(ctx, f.host))
	assert.True(t, s.Room().IsPaused)

	n := 7
	_, err := s.CallNumber(ctx, f.host, &n)
	assert.NoError(t, err, "host may call manually while paused")

	require.NoError(t, s.Resume(ctx, f.host))
	assert.False(t, s.Room().IsPaused)
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventGamePaused))
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventGameResumed))
}

func TestAutoCallerSkipsWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, nil)
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)

	// below the creation minimum, set directly to keep the test fast
	s.mu.Lock()
	s.room.AutoCallInterval = 5 * time.Millisecond
	s.mu.Unlock()
	defer s.Close()

	require.NoError(t, s.Start(ctx, f.host))
	require.Eventually(t, func() bool { return len(s.Room().Called) >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Pause(ctx, f.host))
	paused := len(s.Room().Called)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, len(s.Room().Called))

	require.NoError(t, s.Resume(ctx, f.host))
	require.Eventually(t, func() bool { return len(s.Room().Called) > paused }, 2*time.Second, 5*time.Millisecond)
}

func TestCancelRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createRoom(t, func(p *CreateRoomParams) { p.TicketPrice = 10 })
	f.wallet.balances[f.alice] = 100
	f.wallet.balances[f.bob] = 100
	_, err := s.Join(ctx, f.alice, "")
	require.NoError(t, err)
	_, err = s.Join(ctx, f.bob, "")
	require.NoError(t, err)
	_, err = s.PurchaseTickets(ctx, f.alice, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(70), f.wallet.balance(f.alice))

	assert.ErrorIs(t, s.Cancel(ctx, f.alice), ErrNotHost)
	require.NoError(t, s.Cancel(ctx, f.host))

	assert.Equal(t, models.RoomCancelled, s.Room().Status)
	assert.Equal(t, int64(100), f.wallet.balance(f.alice))
	assert.Equal(t, int64(100), f.wallet.balance(f.bob))
	assert.Equal(t, 1, f.bus.count(RoomTopic(s.ID), EventGameCancelled))

	_, err = f.reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	stored, err := f.store.GetRoom(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomCancelled, stored.Status)

	_, err = s.Join(ctx, f.alice, "")
	assert.NoError(t, err, "existing members are still members")
	carol := f.addPlayer("Carol", false)
	_, err = s.Join(ctx, carol, "")
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestCancelActiveRejected(t *testing.T) {
	f := newFixture(t)
	s := f.startedRoom(t)
	assert.ErrorIs(t, s.Cancel(context.Background(), f.host), ErrGameStarted)
}

func TestActionsQueued(t *testing.T) {
	f := newFixture(t)
	f.startedRoom(t)
	// room_create, two joins, start
	require.Eventually(t, func() bool { return f.actions.len() == 4 }, time.Second, 5*time.Millisecond)
}
