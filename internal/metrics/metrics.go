// Package metrics declares the Prometheus metrics for the room orchestration core.
//
// Naming convention: namespace_subsystem_name.
// namespace is always sfu_room; subsystem groups by feature area (websocket,
// room, media_engine, circuit_breaker, rate_limit, bus, webinar, lifecycle).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of admitted members in each room",
	}, []string{"room_id"})

	RoomPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "room",
		Name:      "pending_count",
		Help:      "Number of knockers awaiting admission in each room",
	}, []string{"room_id"})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu_room",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	MediaEngineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "media_engine",
		Name:      "requests_total",
		Help:      "Total media engine adapter RPCs by method and status",
	}, []string{"method", "status"})

	MediaEngineRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu_room",
		Subsystem: "media_engine",
		Name:      "request_duration_seconds",
		Help:      "Duration of media engine adapter RPCs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	ProducersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "room",
		Name:      "producers_active",
		Help:      "Number of active producers in each room",
	}, []string{"room_id"})

	ConsumersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "room",
		Name:      "consumers_active",
		Help:      "Number of active consumers in each room",
	}, []string{"room_id"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current circuit breaker state (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by a circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"endpoint"})

	BusOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "bus",
		Name:      "operations_total",
		Help:      "Total cross-instance bus operations",
	}, []string{"operation", "status"})

	WebinarAttendees = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_room",
		Subsystem: "webinar",
		Name:      "attendees_count",
		Help:      "Number of webinar attendees in each room",
	}, []string{"room_id"})

	DrainEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_room",
		Subsystem: "lifecycle",
		Name:      "drain_events_total",
		Help:      "Total drain lifecycle events by kind",
	}, []string{"kind"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
