package model

import "time"

// AdjustmentStatus is the lifecycle state of a billing adjustment.
type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApplied  AdjustmentStatus = "applied"
	AdjustmentReversed AdjustmentStatus = "reversed"
)

// BillingAdjustment records the credit a user receives for meals missed
// during a leave.  Each adjustment belongs to exactly one leave and one
// user.  Reversed adjustments are kept for audit and excluded from active
// credit totals.
//
// Fields:
//
//	ID             – primary key identifier.
//	UserID         – credited user.
//	LeaveID        – owning leave.
//	MessID         – mess of the owning leave.
//	OriginalAmount – what the user would have paid for the affected meals.
//	AdjustedAmount – amount still owed after the leave (0 under full credit).
//	CreditAmount   – OriginalAmount - AdjustedAmount.
//	AdjustmentDate – when the credit was computed.
//	Reason         – human-readable explanation.
//	Status         – pending, applied or reversed.
type BillingAdjustment struct {
	ID             uint64           `json:"id"`
	UserID         uint64           `json:"userId"`
	LeaveID        uint64           `json:"leaveId"`
	MessID         uint64           `json:"messId"`
	OriginalAmount int64            `json:"originalAmount"`
	AdjustedAmount int64            `json:"adjustedAmount"`
	CreditAmount   int64            `json:"creditAmount"`
	AdjustmentDate time.Time        `json:"adjustmentDate"`
	Reason         string           `json:"reason"`
	Status         AdjustmentStatus `json:"status"`
	AppliedAt      *time.Time       `json:"appliedAt,omitempty"`
	ReversedAt     *time.Time       `json:"reversedAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}
