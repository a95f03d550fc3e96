// internal/models/ticket.go
package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	TicketRows    = 3
	TicketColumns = 9
	// NumbersPerRow is the number of filled cells in every row.
	NumbersPerRow = 5
	// NumbersPerTicket is the number of filled cells on a ticket.
	NumbersPerTicket = TicketRows * NumbersPerRow
	// MaxNumber is the highest number that can be called.
	MaxNumber = 90
)

// Grid is a 3x9 ticket layout. A zero cell is blank.
type Grid [TicketRows][TicketColumns]int

// Row returns the filled values of a row, left to right.
func (g Grid) Row(r int) []int {
	out := make([]int, 0, NumbersPerRow)
	for _, v := range g[r] {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

// Numbers returns every filled value in ascending order.
func (g Grid) Numbers() []int {
	out := make([]int, 0, NumbersPerTicket)
	for r := range g {
		out = append(out, g.Row(r)...)
	}
	slices.Sort(out)
	return out
}

// Ticket is a player's grid in one room.
type Ticket struct {
	ID         uuid.UUID `json:"id"`
	Number     int       `json:"ticket_number"`
	PlayerID   uuid.UUID `json:"user_id"`
	PlayerName string    `json:"user_name"`
	RoomID     uuid.UUID `json:"room_id"`
	Grid       Grid      `json:"grid"`
	Numbers    []int     `json:"numbers"`
	Marked     []int     `json:"marked_numbers"`
	Free       bool      `json:"free"`
	IssuedAt   time.Time `json:"purchased_at"`
}

// Has reports whether n appears anywhere on the ticket.
func (t *Ticket) Has(n int) bool {
	_, found := slices.BinarySearch(t.Numbers, n)
	return found
}

// IsMarked reports whether n has been marked on the ticket.
func (t *Ticket) IsMarked(n int) bool {
	return slices.Contains(t.Marked, n)
}

// Mark records n as marked if it is on the ticket. It returns false when n is not on the
// ticket or was already marked.
func (t *Ticket) Mark(n int) bool {
	if !t.Has(n) || t.IsMarked(n) {
		return false
	}
	t.Marked = append(t.Marked, n)
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Numbers = slices.Clone(t.Numbers)
	c.Marked = slices.Clone(t.Marked)
	return &c
}
