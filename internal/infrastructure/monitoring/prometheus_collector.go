package monitoring

import (
	"time"

	"meshcall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on meshcall_signals_dropped_total.
const (
	DropNotInSameRoom = "not_in_same_room"
	DropTargetOffline = "target_offline"
	DropSlowConsumer  = "slow_consumer"
	DropRateLimited   = "rate_limited"
)

type PrometheusCollector struct {
	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	connectionsActive  prometheus.Gauge
	connectionsTotal   prometheus.Counter

	signalsRelayed   *prometheus.CounterVec
	signalsDropped   *prometheus.CounterVec
	chatMessages     prometheus.Counter
	protocolErrors   *prometheus.CounterVec
	joinsRejected    *prometheus.CounterVec
	historyRecords   *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	roomParticipants prometheus.Histogram
}

// NewPrometheusCollector registers the relay metrics on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_rooms_active",
			Help: "Number of rooms with at least one participant",
		}),

		participantsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_participants_active",
			Help: "Number of participants currently in a room",
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_connections_active",
			Help: "Number of open relay websocket sessions",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_connections_total",
			Help: "Total number of relay websocket sessions accepted",
		}),

		signalsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signals_relayed_total",
			Help: "Signal messages forwarded between participants",
		}, []string{"event"}),

		signalsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signals_dropped_total",
			Help: "Relay messages that were not delivered",
		}, []string{"reason"}),

		chatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_chat_messages_total",
			Help: "Chat messages accepted by the relay",
		}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_protocol_errors_total",
			Help: "Inbound frames answered with an error event",
		}, []string{"event"}),

		joinsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_joins_rejected_total",
			Help: "Join requests refused by the room registry",
		}, []string{"reason"}),

		historyRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_history_records_total",
			Help: "Meeting history writes by outcome",
		}, []string{"result"}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_session_duration_seconds",
			Help:    "Lifetime of relay websocket sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		roomParticipants: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_room_size_on_join",
			Help:    "Room size observed right after a successful join",
			Buckets: prometheus.LinearBuckets(1, 1, 16),
		}),
	}
}

func (p *PrometheusCollector) RecordSessionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordSessionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.sessionDuration.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) UpdateRegistryStats(stats domain.RegistryStats) {
	p.roomsActive.Set(float64(stats.Rooms))
	p.participantsActive.Set(float64(stats.Participants))
}

func (p *PrometheusCollector) RecordJoin(roomSize int) {
	p.roomParticipants.Observe(float64(roomSize))
}

func (p *PrometheusCollector) RecordJoinRejected(reason string) {
	p.joinsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordSignalRelayed(event string) {
	p.signalsRelayed.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) RecordSignalDropped(reason string) {
	p.signalsDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordChatMessage() {
	p.chatMessages.Inc()
}

func (p *PrometheusCollector) RecordProtocolError(event string) {
	if event == "" {
		event = "unknown"
	}
	p.protocolErrors.WithLabelValues(event).Inc()
}

func (p *PrometheusCollector) RecordHistoryWrite(result string) {
	p.historyRecords.WithLabelValues(result).Inc()
}
