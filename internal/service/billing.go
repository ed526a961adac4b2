package service

import (
	"fmt"
	"time"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// DefaultAverageMealCost is the flat per-meal price used when none is
// configured.
const DefaultAverageMealCost int64 = 50

const dateLayout = "2006-01-02"

// MealCredit is what one user would have paid for the meals a leave skips:
// days * meal types * average meal cost.
func MealCredit(l *model.Leave, averageMealCost int64) int64 {
	return int64(l.Days()) * int64(len(l.MealTypes)) * averageMealCost
}

// EstimatedSavings is the owner-facing cost avoided by the closure.
func EstimatedSavings(l *model.Leave, averageMealCost int64, affectedUsers int) int64 {
	return MealCredit(l, averageMealCost) * int64(affectedUsers)
}

// AdjustmentReason is the human-readable explanation stored on each credit.
func AdjustmentReason(l *model.Leave) string {
	return fmt.Sprintf("Mess leave: %s (%s to %s)",
		l.LeaveType, l.StartDate.Format(dateLayout), l.EndDate.Format(dateLayout))
}

// BuildAdjustments returns one pending adjustment per user.  Leaves are
// fully credited, so AdjustedAmount is always 0.  Users whose credit would
// be zero get no row.
func BuildAdjustments(l *model.Leave, users []model.User, averageMealCost int64, at time.Time) []model.BillingAdjustment {
	credit := MealCredit(l, averageMealCost)
	if credit <= 0 {
		return nil
	}
	reason := AdjustmentReason(l)
	out := make([]model.BillingAdjustment, 0, len(users))
	for _, u := range users {
		original := credit
		adjusted := int64(0)
		out = append(out, model.BillingAdjustment{
			UserID:         u.ID,
			LeaveID:        l.ID,
			MessID:         l.MessID,
			OriginalAmount: original,
			AdjustedAmount: adjusted,
			CreditAmount:   original - adjusted,
			AdjustmentDate: at.UTC(),
			Reason:         reason,
			Status:         model.AdjustmentPending,
		})
	}
	return out
}

// TotalCredit sums the credit of adjustments that are not reversed.
func TotalCredit(adjustments []model.BillingAdjustment) int64 {
	var total int64
	for _, a := range adjustments {
		if a.Status != model.AdjustmentReversed {
			total += a.CreditAmount
		}
	}
	return total
}
