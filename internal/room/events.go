// internal/room/events.go
package room

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Event names published on the Bus and sent to websocket clients.
const (
	EventConnected          = "connected"
	EventAuthenticated      = "authenticated"
	EventRoomJoined         = "room_joined"
	EventPlayerJoined       = "player_joined"
	EventPlayerLeft         = "player_left"
	EventPlayerDisconnected = "player_disconnected"
	EventNewRoom            = "new_room"
	EventGameStarted        = "game_started"
	EventGamePaused         = "game_paused"
	EventGameResumed        = "game_resumed"
	EventNumberCalled       = "number_called"
	EventTicketAssigned     = "ticket_assigned"
	EventTicketsPurchased   = "tickets_purchased"
	EventTicketUpdated      = "ticket_updated"
	EventPrizeWon           = "prize_won"
	EventGameCompleted      = "game_completed"
	EventGameCancelled      = "game_cancelled"
	EventError              = "error"
)

// Topic addresses a set of subscribers: everyone in a room, one player, or the lobby.
type Topic string

// LobbyTopic receives room listings.
const LobbyTopic Topic = "lobby"

func RoomTopic(id uuid.UUID) Topic   { return Topic("room:" + id.String()) }
func PlayerTopic(id uuid.UUID) Topic { return Topic("player:" + id.String()) }

// FanOut publishes each event to every bus in order.
type FanOut []Bus

func (f FanOut) Publish(ctx context.Context, topic Topic, event string, payload any) error {
	var errs []error
	for _, b := range f {
		if err := b.Publish(ctx, topic, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
