package model

import (
	"math"
	"time"
)

// LeaveType classifies why a mess is closed.
type LeaveType string

const (
	LeaveTypeHoliday     LeaveType = "holiday"
	LeaveTypeMaintenance LeaveType = "maintenance"
	LeaveTypePersonal    LeaveType = "personal"
	LeaveTypeEmergency   LeaveType = "emergency"
	LeaveTypeSeasonal    LeaveType = "seasonal"
	LeaveTypeOther       LeaveType = "other"
)

// LeaveTypes lists every accepted leave type in display order.
var LeaveTypes = []LeaveType{
	LeaveTypeHoliday, LeaveTypeMaintenance, LeaveTypePersonal,
	LeaveTypeEmergency, LeaveTypeSeasonal, LeaveTypeOther,
}

// Valid reports whether t is one of the known leave types.
func (t LeaveType) Valid() bool {
	for _, v := range LeaveTypes {
		if v == t {
			return true
		}
	}
	return false
}

// LeaveStatus is the lifecycle state of a leave.  Only scheduled and
// cancelled are ever persisted by this service; active and completed are
// derived from the date range (see DeriveStatus).
type LeaveStatus string

const (
	LeaveStatusScheduled LeaveStatus = "scheduled"
	LeaveStatusActive    LeaveStatus = "active"
	LeaveStatusCompleted LeaveStatus = "completed"
	LeaveStatusCancelled LeaveStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s LeaveStatus) Valid() bool {
	switch s {
	case LeaveStatusScheduled, LeaveStatusActive, LeaveStatusCompleted, LeaveStatusCancelled:
		return true
	}
	return false
}

// OccupyingStatuses are the statuses that still hold a slot in the mess
// calendar.  Overlap checks and analytics only consider these.
var OccupyingStatuses = []LeaveStatus{LeaveStatusScheduled, LeaveStatusActive}

// MealType is one of the meals a mess serves per day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
)

// Valid reports whether m is a served meal.
func (m MealType) Valid() bool {
	return m == MealBreakfast || m == MealLunch || m == MealDinner
}

// RecurrenceFrequency describes how often a leave repeats.
type RecurrenceFrequency string

const (
	RecurrenceNone    RecurrenceFrequency = "none"
	RecurrenceDaily   RecurrenceFrequency = "daily"
	RecurrenceWeekly  RecurrenceFrequency = "weekly"
	RecurrenceMonthly RecurrenceFrequency = "monthly"
	RecurrenceYearly  RecurrenceFrequency = "yearly"
)

// Recurrence is the descriptor stored with a leave.  It is kept as
// metadata; occurrences are not expanded into separate leaves.
type Recurrence struct {
	Frequency   RecurrenceFrequency `json:"frequency"`
	Interval    int                 `json:"interval"`
	DaysOfWeek  []int               `json:"daysOfWeek,omitempty"`
	EndDate     *time.Time          `json:"endDate,omitempty"`
	Occurrences *int                `json:"occurrences,omitempty"`
}

// MessRef is the populated mess reference returned with a leave.
type MessRef struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Leave represents one scheduled mess closure as stored in the `mess_leaves`
// table.
//
// Fields:
//
//	ID                – primary key identifier.
//	MessID            – mess that is closed.
//	StartDate/EndDate – inclusive UTC calendar dates of the closure.
//	LeaveType         – reason category.
//	Reason            – free text shown to users.
//	MealTypes         – meals not served on each leave day (non-empty).
//	Recurrence        – repeat descriptor.
//	Status            – persisted lifecycle state.
//	NotificationsSent – whether users have been notified at least once.
//	CreatedBy         – owner who scheduled the leave.
//	AffectedUsers     – active members counted at creation time.
//	EstimatedSavings  – owner-facing cost avoided, whole currency units.
type Leave struct {
	ID                uint64      `json:"id"`
	MessID            uint64      `json:"messId"`
	Mess              *MessRef    `json:"mess,omitempty"`
	StartDate         time.Time   `json:"startDate"`
	EndDate           time.Time   `json:"endDate"`
	LeaveType         LeaveType   `json:"leaveType"`
	Reason            string      `json:"reason"`
	MealTypes         []MealType  `json:"mealTypes"`
	Recurrence        Recurrence  `json:"recurrence"`
	Status            LeaveStatus `json:"status"`
	EffectiveStatus   LeaveStatus `json:"effectiveStatus,omitempty"`
	NotificationsSent bool        `json:"notificationsSent"`
	CreatedBy         uint64      `json:"createdBy"`
	AffectedUsers     int         `json:"affectedUsers"`
	EstimatedSavings  int64       `json:"estimatedSavings"`
	CancelledAt       *time.Time  `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// LeaveFilter narrows the owner's leave listing.  Empty slices and nil
// times mean "no constraint".
type LeaveFilter struct {
	CreatedBy  uint64
	Statuses   []LeaveStatus
	LeaveTypes []LeaveType
	StartFrom  *time.Time
	StartTo    *time.Time
}

// DaysInclusive returns the number of calendar days covered by [start, end],
// counting both ends: ceil((end-start)/24h) + 1.
func DaysInclusive(start, end time.Time) int {
	diff := end.Sub(start).Hours() / 24
	return int(math.Ceil(diff)) + 1
}

// Days returns the inclusive day span of the leave.
func (l *Leave) Days() int { return DaysInclusive(l.StartDate, l.EndDate) }

// Overlaps reports whether the inclusive ranges [l.Start, l.End] and
// [start, end] intersect.
func (l *Leave) Overlaps(start, end time.Time) bool {
	return !l.StartDate.After(end) && !l.EndDate.Before(start)
}

// DeriveStatus computes the status a leave has at instant now.  Cancelled
// leaves stay cancelled; otherwise the state follows the calendar: before
// the start date it is scheduled, on any day inside the range it is active,
// after the end date it is completed.
func DeriveStatus(l *Leave, now time.Time) LeaveStatus {
	if l.Status == LeaveStatusCancelled {
		return LeaveStatusCancelled
	}
	today := DateOf(now)
	switch {
	case today.Before(DateOf(l.StartDate)):
		return LeaveStatusScheduled
	case today.After(DateOf(l.EndDate)):
		return LeaveStatusCompleted
	default:
		return LeaveStatusActive
	}
}

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
