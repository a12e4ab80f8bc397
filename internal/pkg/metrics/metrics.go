// Package metrics holds the Prometheus collectors for the tokens service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reach",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Ledger rows appended, by reason.",
}, []string{"reason"})

var LedgerTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reach",
	Subsystem: "ledger",
	Name:      "tokens_total",
	Help:      "Absolute token volume moved, by direction (credit/debit).",
}, []string{"direction"})

var LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reach",
	Subsystem: "ledger",
	Name:      "rejections_total",
	Help:      "Ledger operations rejected, by cause.",
}, []string{"cause"})

var Awards = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reach",
	Subsystem: "rewards",
	Name:      "awards_total",
	Help:      "Award calls, by outcome (created/duplicate/failed).",
}, []string{"outcome"})

var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reach",
	Subsystem: "shop",
	Name:      "redemptions_total",
	Help:      "Redemption attempts and transitions, by outcome.",
}, []string{"outcome"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "reach",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

var WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "reach",
	Subsystem: "realtime",
	Name:      "websocket_connections",
	Help:      "Open realtime websocket connections on this instance.",
})
