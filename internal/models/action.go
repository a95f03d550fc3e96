// internal/models/action.go
package models

import "github.com/google/uuid"

// ActionRecord is one entry in a room's action history, drained by the historian.
type ActionRecord struct {
	RoomID        uuid.UUID      `json:"room_id"`
	ActionIndex   int            `json:"action_index"`
	ActorUserID   uuid.UUID      `json:"actor_user_id"`
	ActionType    string         `json:"action_type"`
	ActionPayload map[string]any `json:"action_payload"`
	Timestamp     int64          `json:"timestamp"`
}
