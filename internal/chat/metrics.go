package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages broadcast to a conversation",
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_persist_failures_total",
		Help: "Messages broadcast without being persisted",
	})

	accessDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_access_denials_total",
		Help: "Join or send requests refused, by reason",
	}, []string{"reason"})

	historyFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_history_fallbacks_total",
		Help: "History loads that failed and were replaced by an empty list",
	})
)
