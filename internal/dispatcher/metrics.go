package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeRetired = "retired"
	outcomeSkipped = "skipped"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remindbot",
		Subsystem: "dispatcher",
		Name:      "ticks_total",
		Help:      "Poller ticks started.",
	})
	tickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remindbot",
		Subsystem: "dispatcher",
		Name:      "tick_errors_total",
		Help:      "Ticks aborted by a store error.",
	})
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "remindbot",
		Subsystem: "dispatcher",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one poller tick.",
		Buckets:   prometheus.DefBuckets,
	})
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remindbot",
		Subsystem: "dispatcher",
		Name:      "items_total",
		Help:      "Due reminders handled, by outcome.",
	}, []string{"outcome"})
)
