package model

import (
	"strings"
	"time"
)

// Role is the canonical role name carried in access tokens.
type Role string

const (
	RoleUser      Role = "user"
	RoleMessOwner Role = "mess_owner"
	RoleAdmin     Role = "admin"
)

// NormalizeRole maps the spellings issued by the platform ("mess-owner",
// "MESS_OWNER", "mess_owner") onto one canonical Role.  Unknown roles are
// returned lower-cased so that RequireRole rejects them.
func NormalizeRole(raw string) Role {
	r := strings.ToLower(strings.TrimSpace(raw))
	r = strings.ReplaceAll(r, "-", "_")
	r = strings.ReplaceAll(r, " ", "_")
	return Role(r)
}

// Channel is a delivery channel a user can opt into.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// User represents an application user record as stored in the `users`
// table.  The leave service reads users to find the members of a mess and
// their notification preferences.
//
// Fields:
//  ID                   – primary key identifier of the user.
//  Name                 – display name.
//  Email                – email address used by the email channel.
//  Phone                – phone number used by the sms channel.
//  Role                 – canonical role.
//  MessID               – mess the user belongs to (nil when none).
//  IsActive             – whether the subscription is active.
//  NotificationChannels – channels the user opted into.
//  CreatedAt            – timestamp of creation.
//  UpdatedAt            – timestamp of last update.
type User struct {
	ID                   uint64    // users.id
	Name                 string    // users.name
	Email                string    // users.email
	Phone                string    // users.phone
	Role                 Role      // users.role
	MessID               *uint64   // users.mess_id (nullable)
	IsActive             bool      // users.is_active
	NotificationChannels []Channel // users.notification_channels (JSON)
	CreatedAt            time.Time // users.created_at
	UpdatedAt            time.Time // users.updated_at
}

// Channels returns the user's preferred channels, falling back to in-app
// delivery when no preference is stored.
func (u User) Channels() []Channel {
	if len(u.NotificationChannels) == 0 {
		return []Channel{ChannelInApp}
	}
	return u.NotificationChannels
}
