package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// sessionsActive gauges authenticated sessions currently open.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of open realtime sessions.",
		},
	)

	// eventsTotal counts inbound client events by type. Unknown types are
	// folded into "unknown" to bound cardinality.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Total number of inbound realtime events.",
		},
		[]string{"type"},
	)

	// deliveriesTotal counts send outcomes: delivered, stored (recipient
	// offline), push_failed, request, rejected, failed.
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total number of message sends by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(sessionsActive, eventsTotal, deliveriesTotal)
}

func eventLabel(t string) string {
	switch t {
	case EventSendMessage, EventSetTyping, EventMarkRead, EventMarkConversationRead, EventPing:
		return t
	default:
		return "unknown"
	}
}
