// internal/room/errors.go
package room

import (
	"errors"
	"fmt"
)

// Kind classifies a room error so transports can map it to a status.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindForbidden
	KindConflict
	KindInsufficientFunds
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every room operation. No state is changed when one is returned.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches another *Error of the same kind. An empty target message matches any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal when err is not a room error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

var (
	ErrRoomNotFound   = &Error{Kind: KindNotFound, Msg: "room not found"}
	ErrTicketNotFound = &Error{Kind: KindNotFound, Msg: "ticket not found"}
	ErrPlayerNotFound = &Error{Kind: KindNotFound, Msg: "player not found"}

	ErrInvalidNumber   = &Error{Kind: KindValidation, Msg: "number must be between 1 and 90"}
	ErrInvalidQuantity = &Error{Kind: KindValidation, Msg: "invalid ticket quantity"}
	ErrConditionNotMet = &Error{Kind: KindValidation, Msg: "winning condition not met"}
	ErrUnknownPrize    = &Error{Kind: KindValidation, Msg: "unknown prize type"}

	ErrNotHost         = &Error{Kind: KindForbidden, Msg: "only the host can do this"}
	ErrNotMember       = &Error{Kind: KindForbidden, Msg: "you are not in this room"}
	ErrNotYourTicket   = &Error{Kind: KindForbidden, Msg: "ticket does not belong to you"}
	ErrWrongPassword   = &Error{Kind: KindForbidden, Msg: "invalid room password"}
	ErrBanned          = &Error{Kind: KindForbidden, Msg: "player is banned"}
	ErrHostCannotLeave = &Error{Kind: KindForbidden, Msg: "host cannot leave the room"}

	ErrRoomFull           = &Error{Kind: KindConflict, Msg: "room is full"}
	ErrAlreadyCalled      = &Error{Kind: KindConflict, Msg: "number already called"}
	ErrAlreadyClaimed     = &Error{Kind: KindConflict, Msg: "prize already claimed"}
	ErrAlreadyWon         = &Error{Kind: KindConflict, Msg: "you already won this prize"}
	ErrPrizeNotConfigured = &Error{Kind: KindConflict, Msg: "prize not configured"}
	ErrGameStarted        = &Error{Kind: KindConflict, Msg: "game already started"}
	ErrNotActive          = &Error{Kind: KindConflict, Msg: "game is not active"}
	ErrNotEnoughPlayers   = &Error{Kind: KindConflict, Msg: "not enough players to start"}
	ErrNoTickets          = &Error{Kind: KindConflict, Msg: "no tickets have been issued"}
	ErrRoomClosed         = &Error{Kind: KindConflict, Msg: "room is closed"}

	// ErrInsufficientFunds is also what Wallet implementations return from Debit.
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Msg: "insufficient balance"}

	ErrInternal = &Error{Kind: KindInternal, Msg: "internal error"}
)
