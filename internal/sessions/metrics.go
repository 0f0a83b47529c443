package sessions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_users",
		Help: "Distinct users with at least one open connection",
	})

	gaugeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_connections",
		Help: "Authenticated connections currently registered",
	})
)
