package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cobrofox_webhook_requests_total",
		Help: "Gateway webhook deliveries by gateway and outcome.",
	}, []string{"gateway", "outcome"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cobrofox_webhook_duration_seconds",
		Help:    "Time spent processing a gateway webhook delivery.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	PaymentsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cobrofox_payments_reconciled_total",
		Help: "Payments applied to debts by gateway and result.",
	}, []string{"gateway", "result"})

	PaymentLinksIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cobrofox_payment_links_issued_total",
		Help: "Payment link creation attempts by gateway and result.",
	}, []string{"gateway", "result"})

	MaintenanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cobrofox_maintenance_transitions_total",
		Help: "Rows changed by scheduled maintenance by task.",
	}, []string{"task"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cobrofox_notifications_total",
		Help: "Lifecycle notifications by kind and result.",
	}, []string{"kind", "result"})
)
