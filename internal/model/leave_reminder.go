package model

import "time"

// LeaveReminder is a pending reminder for a scheduled leave.  Reminders
// are written together with the leave when the owner asks for one and are
// dispatched by the reminder scheduler once RemindAt has passed.
//
// Fields:
//  ID        – primary key identifier.
//  LeaveID   – leave the reminder belongs to.
//  RemindAt  – when the reminder becomes due.
//  SentAt    – when it was dispatched (nil while pending).
//  CreatedAt – when the reminder was created.
type LeaveReminder struct {
	ID        uint64     // leave_reminders.id
	LeaveID   uint64     // leave_reminders.leave_id
	RemindAt  time.Time  // leave_reminders.remind_at
	SentAt    *time.Time // leave_reminders.sent_at (nullable)
	CreatedAt time.Time  // leave_reminders.created_at
}
