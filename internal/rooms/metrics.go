package rooms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gaugeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Conversations with at least one joined connection",
	})

	gaugeMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_room_memberships",
		Help: "Connection memberships across all rooms",
	})
)
