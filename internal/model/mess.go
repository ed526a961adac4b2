package model

import "time"

// Mess represents a shared meal-subscription establishment.  A mess has
// one owner and many subscribed users.  This struct corresponds to a row
// in the `messes` table, which is owned by the wider platform; the leave
// service only reads it and row-locks it while scheduling.
//
// Fields:
//  ID        – primary key identifier.
//  OwnerID   – user ID of the mess owner.
//  Name      – display name of the mess.
//  CreatedAt – timestamp when the mess was created.
//  UpdatedAt – timestamp of last update.
type Mess struct {
	ID        uint64    // messes.id
	OwnerID   uint64    // messes.owner_id
	Name      string    // messes.name
	CreatedAt time.Time // messes.created_at
	UpdatedAt time.Time // messes.updated_at
}
