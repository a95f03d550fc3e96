package models

import "github.com/google/uuid"

// Player is the subset of an account the game needs.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarRef string    `json:"profile_pic,omitempty"`
	Banned    bool      `json:"-"`
}
