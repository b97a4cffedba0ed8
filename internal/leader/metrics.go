package leader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "remindbot",
		Name:      "leader",
		Help:      "1 while this process holds the leadership lease.",
	})
	leaderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remindbot",
		Name:      "leader_transitions_total",
		Help:      "Leadership changes observed by this process.",
	}, []string{"kind"})
)
