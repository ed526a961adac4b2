// Package metrics holds the Prometheus collectors exported on /metrics.
// Collectors are registered once with the default registry at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smartmess"

var (
	// LeavesCreated counts scheduled leaves by leave type.
	LeavesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_created_total",
			Help:      "Total number of leaves scheduled",
		},
		[]string{"leave_type"},
	)

	// LeavesCancelled counts cancelled leaves.
	LeavesCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_cancelled_total",
			Help:      "Total number of leaves cancelled",
		},
	)

	// OverlapRejections counts leave requests rejected for overlapping an
	// existing leave.
	OverlapRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leave_overlap_rejections_total",
			Help:      "Total number of leave requests rejected as overlapping",
		},
	)

	// CreditsIssued sums the credit amounts written with new leaves.
	CreditsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_credits_issued_total",
			Help:      "Sum of billing credit amounts issued",
		},
	)

	// AdjustmentsReversed counts billing adjustments reversed by cancellations.
	AdjustmentsReversed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_adjustments_reversed_total",
			Help:      "Total number of billing adjustments reversed",
		},
	)

	// NotificationsDispatched counts per-user sends by notification type and
	// outcome ("sent" or "failed").
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Total number of notifications dispatched",
		},
		[]string{"type", "status"},
	)

	// BroadcastDuration observes how long a whole fan-out takes.
	BroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_broadcast_duration_seconds",
			Help:      "Time to fan out one notification to all recipients",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)

	// RemindersSent counts reminder rows dispatched by the scheduler.
	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leave_reminders_sent_total",
			Help:      "Total number of leave reminders dispatched",
		},
	)

	// ConsumerDeliveries counts messages handled by the notification consumer
	// by channel and outcome.
	ConsumerDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Total number of channel deliveries performed by the consumer",
		},
		[]string{"channel", "status"},
	)
)
