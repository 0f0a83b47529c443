package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gateway_connections_total",
		Help: "Websocket connections accepted after authentication",
	})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_auth_failures_total",
		Help: "Rejected connection attempts by reason",
	}, []string{"reason"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_state_transitions_total",
		Help: "Connection state transitions",
	}, []string{"from", "to"})

	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_frames_rejected_total",
		Help: "Inbound frames answered with an error event",
	}, []string{"reason"})

	slowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gateway_slow_consumers_total",
		Help: "Connections dropped because their outbox was full",
	})
)
