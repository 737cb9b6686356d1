// Package metrics 注册服务使用的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_ledger_commands_total",
		Help: "Account ledger commands, labeled by command, result and status",
	}, []string{"command", "result", "status"})

	CardCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_card_commands_total",
		Help: "Card store commands, labeled by command and outcome",
	}, []string{"command", "outcome"})

	SagaSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_saga_steps_total",
		Help: "Completed transaction saga steps, labeled by step entered",
	}, []string{"step"})

	SagaCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_saga_commands_total",
		Help: "Transaction saga commands, labeled by command and reply code",
	}, []string{"command", "reply"})

	PropagatorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_card_activation_events_total",
		Help: "Account events handled by the card activation propagator, labeled by outcome",
	}, []string{"outcome"})

	OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_outbox_messages_total",
		Help: "Outbox publish attempts, labeled by status",
	}, []string{"status"})

	TimersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_timers_fired_total",
		Help: "Timers dispatched, labeled by kind and outcome",
	}, []string{"kind", "outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)
