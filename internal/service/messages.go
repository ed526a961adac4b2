package service

import (
	"fmt"
	"strings"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

func messName(l *model.Leave) string {
	if l.Mess != nil && l.Mess.Name != "" {
		return l.Mess.Name
	}
	return "Your mess"
}

func mealList(meals []model.MealType) string {
	parts := make([]string, len(meals))
	for i, m := range meals {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}

func leaveWindow(l *model.Leave) string {
	if l.Days() == 1 {
		return "on " + l.StartDate.Format(dateLayout)
	}
	return fmt.Sprintf("from %s to %s", l.StartDate.Format(dateLayout), l.EndDate.Format(dateLayout))
}

// leaveTemplate renders the notification sent for a leave event.
func leaveTemplate(l *model.Leave, typ model.NotificationType) Template {
	id := l.ID
	t := Template{Type: typ, LeaveID: &id}
	switch typ {
	case model.NotificationCancellation:
		t.Title = "Mess leave cancelled"
		t.Message = fmt.Sprintf("%s has cancelled the closure %s. Regular meals (%s) will be served.",
			messName(l), leaveWindow(l), mealList(l.MealTypes))
	case model.NotificationReminder:
		t.Title = "Upcoming mess leave"
		t.Message = fmt.Sprintf("Reminder: %s will be closed %s for %s.",
			messName(l), leaveWindow(l), mealList(l.MealTypes))
	default:
		t.Title = "Mess leave scheduled"
		t.Message = fmt.Sprintf("%s will be closed %s for %s. Reason: %s. Your bill will be credited for the missed meals.",
			messName(l), leaveWindow(l), mealList(l.MealTypes), l.Reason)
	}
	return t
}
