package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remindersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "remindbot",
		Name:      "reminders",
		Help:      "Reminders in the store by status, sampled by housekeeping.",
	}, []string{"status"})

	remindersDue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "remindbot",
		Name:      "reminders_due",
		Help:      "Scheduled reminders whose next run is in the past, sampled by housekeeping.",
	})

	leasesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remindbot",
		Name:      "leases_pruned_total",
		Help:      "Expired named lease records deleted by housekeeping.",
	})
)
