package irc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the Prometheus registry used by this package
	Registry = prometheus.NewRegistry()

	connectsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ircconn",
			Name:      "connects_total",
			Help:      "Connect attempts by result (success, failure, timeout, canceled)",
		},
		[]string{"result"},
	)

	connectDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ircconn",
			Name:      "connect_duration_seconds",
			Help:      "Time spent waiting for the transport to report a connect result",
			Buckets:   prometheus.DefBuckets,
		},
	)

	interruptsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ircconn",
			Name:      "interrupts_total",
			Help:      "Connections lost without a local disconnect, by cause",
		},
		[]string{"cause"},
	)

	activeListeners = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ircconn",
			Name:      "listeners",
			Help:      "Listeners currently registered with a transport",
		},
	)

	eventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ircconn",
			Name:      "events_total",
			Help:      "Server events dispatched to listeners by command",
		},
		[]string{"command"},
	)

	sentTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ircconn",
			Name:      "sent_total",
			Help:      "Commands sent by managers",
		},
		[]string{"command"},
	)
)
