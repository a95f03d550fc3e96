// internal/models/room.go
package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
	RoomCancelled RoomStatus = "cancelled"
)

// Terminal reports whether no further operations are accepted.
func (s RoomStatus) Terminal() bool {
	return s == RoomCompleted || s == RoomCancelled
}

type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

// RoomPlayer is a member of a room.
type RoomPlayer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarRef string    `json:"profile_pic,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Room is the full state of one game. While a session is live it is the only writer.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"room_code"`
	Name         string    `json:"name"`
	HostID       uuid.UUID `json:"host_id"`
	HostName     string    `json:"host_name"`
	Type         RoomType  `json:"room_type"`
	PasswordHash string    `json:"-"`

	TicketPrice int64 `json:"ticket_price"`
	MinPlayers  int   `json:"min_players"`
	MaxPlayers  int   `json:"max_players"`

	Status   RoomStatus   `json:"status"`
	IsPaused bool         `json:"is_paused"`
	Players  []RoomPlayer `json:"players"`

	Called        []int `json:"called_numbers"`
	CurrentNumber int   `json:"current_number,omitempty"`

	Prizes  []PrizeConfig `json:"prizes"`
	Winners []Winner      `json:"winners"`

	TicketsIssued int   `json:"tickets_sold"`
	PrizePool     int64 `json:"prize_pool"`
	// Spend tracks what each player paid for tickets, used for refunds on cancellation.
	Spend map[uuid.UUID]int64 `json:"-"`

	// AutoCallInterval, when positive, makes the server call numbers on its own once started.
	AutoCallInterval time.Duration `json:"auto_call_interval,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasPlayer reports whether id is a member.
func (r *Room) HasPlayer(id uuid.UUID) bool {
	return slices.ContainsFunc(r.Players, func(p RoomPlayer) bool { return p.ID == id })
}

// IsCalled reports whether n has already been called.
func (r *Room) IsCalled(n int) bool {
	return slices.Contains(r.Called, n)
}

// Prize returns the config for kind, if present.
func (r *Room) Prize(kind PrizeKind) (PrizeConfig, bool) {
	for _, p := range r.Prizes {
		if p.Kind == kind {
			return p, true
		}
	}
	return PrizeConfig{}, false
}

// Remaining is the count of numbers not yet called.
func (r *Room) Remaining() int {
	return MaxNumber - len(r.Called)
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = slices.Clone(r.Players)
	c.Called = slices.Clone(r.Called)
	c.Prizes = slices.Clone(r.Prizes)
	c.Winners = slices.Clone(r.Winners)
	if r.Spend != nil {
		c.Spend = make(map[uuid.UUID]int64, len(r.Spend))
		for k, v := range r.Spend {
			c.Spend[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
