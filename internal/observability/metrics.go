package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the realtime server. All recorders are safe on a nil
// receiver so components can run without metrics in tests.
type Metrics struct {
	// ActiveConnections counts authenticated websocket sessions.
	ActiveConnections prometheus.Gauge

	// ActiveRooms counts rooms held in memory.
	ActiveRooms prometheus.Gauge

	// InboundMessages counts client frames by type.
	InboundMessages *prometheus.CounterVec

	// BroadcastFrames counts frames queued to peers.
	BroadcastFrames prometheus.Counter

	// DroppedSends counts frames dropped because a peer was not writable.
	DroppedSends prometheus.Counter

	// CoalescedUpdates counts throttled updates superseded before they were sent.
	CoalescedUpdates *prometheus.CounterVec

	// HeartbeatTerminations counts connections reaped by the heartbeat.
	HeartbeatTerminations prometheus.Counter

	// AuthRejections counts refused handshakes by reason.
	AuthRejections *prometheus.CounterVec
}

// NewMetrics registers the server metrics with reg. A nil registerer uses
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "doodledock_active_connections",
			Help: "Current number of authenticated websocket connections",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "doodledock_active_rooms",
			Help: "Current number of rooms held in memory",
		}),
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doodledock_inbound_messages_total",
			Help: "Client messages received by type",
		}, []string{"type"}),
		BroadcastFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodledock_broadcast_frames_total",
			Help: "Frames queued to room members",
		}),
		DroppedSends: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodledock_dropped_sends_total",
			Help: "Frames dropped because the peer was not writable",
		}),
		CoalescedUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doodledock_coalesced_updates_total",
			Help: "Throttled updates superseded by a newer payload",
		}, []string{"type"}),
		HeartbeatTerminations: factory.NewCounter(prometheus.CounterOpts{
			Name: "doodledock_heartbeat_terminations_total",
			Help: "Connections closed for missing a liveness probe",
		}),
		AuthRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doodledock_auth_rejections_total",
			Help: "Refused websocket handshakes by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.BroadcastFrames.Inc()
}

func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.DroppedSends.Inc()
}

func (m *Metrics) UpdateCoalesced(msgType string) {
	if m == nil {
		return
	}
	m.CoalescedUpdates.WithLabelValues(msgType).Inc()
}

func (m *Metrics) HeartbeatTerminated() {
	if m == nil {
		return
	}
	m.HeartbeatTerminations.Inc()
}

func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.AuthRejections.WithLabelValues(reason).Inc()
}
