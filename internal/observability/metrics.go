package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by command and key namespace.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_redis_error_rate_total",
		Help: "Total number of Redis errors by command and key namespace",
	}, []string{"operation", "keyspace"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// CommentOperations counts comment engine calls by operation and outcome.
	CommentOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_comment_operations_total",
		Help: "Total comment operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// RealtimeEventsTotal counts realtime events emitted by type.
	RealtimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_realtime_events_total",
		Help: "Total realtime events emitted by type",
	}, []string{"event_type"})

	// RoomSubscriptions is the gauge of active room subscriptions across all rooms.
	RoomSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campus_websocket_room_subscriptions",
		Help: "Number of active comment room subscriptions",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campus_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// ReplyNotifications counts reply notification dispatch results.
	ReplyNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_reply_notifications_total",
		Help: "Total reply notifications by outcome",
	}, []string{"outcome"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordCommentOperation increments the operation counter with an outcome derived from err.
func RecordCommentOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CommentOperations.WithLabelValues(operation, outcome).Inc()
}
