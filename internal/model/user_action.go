package model

import "time"

// UserActionType is what an owner or admin did about a user.
type UserActionType string

const (
	UserActionLog    UserActionType = "log"
	UserActionNotify UserActionType = "notify"
	UserActionFlag   UserActionType = "flag"
)

// Valid reports whether a is a supported action.
func (a UserActionType) Valid() bool {
	return a == UserActionLog || a == UserActionNotify || a == UserActionFlag
}

// UserAction is an audit row in the `user_actions` table.
type UserAction struct {
	ID        uint64         `json:"id"`
	MessID    uint64         `json:"messId"`
	ActorID   uint64         `json:"actorId"`
	UserID    uint64         `json:"userId"`
	Action    UserActionType `json:"action"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"createdAt"`
}
