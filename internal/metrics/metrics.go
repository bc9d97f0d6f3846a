// Package metrics exposes the mesh node's Prometheus instrumentation:
// packet counters, session gauges, and relay/sync activity, labeled by
// transport and peer where that doesn't risk unbounded cardinality.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gosuda/bitchat-mesh/internal/noisesession"
	"github.com/gosuda/bitchat-mesh/internal/packet"
)

const (
	namespace = "bitchat"
	subsystem = "mesh"
)

const (
	labelTransport = "transport"
	labelType      = "packet_type"
	labelReason    = "reason"
)

// Collector holds every mesh Prometheus metric.
type Collector struct {
	PacketsReceived *prometheus.CounterVec
	PacketsRelayed  *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec

	SessionsActive   prometheus.Gauge
	SessionsFailed   *prometheus.CounterVec
	HandshakesTotal  *prometheus.CounterVec

	SeenSetSize   prometheus.Gauge
	CacheSize     prometheus.Gauge
	FragmentsHeld prometheus.Gauge

	SyncFiltersSent    prometheus.Counter
	SyncRetransmitted  prometheus.Counter
	SyncFiltersRejected prometheus.Counter
}

// NewCollector builds and registers all mesh metrics against reg. If reg
// is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsRelayed,
		c.PacketsDropped,
		c.PacketsSent,
		c.SessionsActive,
		c.SessionsFailed,
		c.HandshakesTotal,
		c.SeenSetSize,
		c.CacheSize,
		c.FragmentsHeld,
		c.SyncFiltersSent,
		c.SyncRetransmitted,
		c.SyncFiltersRejected,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_received_total",
			Help: "Total packets accepted by HandleInbound, by ingress transport.",
		}, []string{labelTransport}),

		PacketsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_relayed_total",
			Help: "Total packets flooded onward after TTL decrement, by packet type.",
		}, []string{labelType}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_dropped_total",
			Help: "Total packets dropped, by reason (duplicate, ttl_expired, bad_signature, bad_sync_filter).",
		}, []string{labelReason}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_sent_total",
			Help: "Total locally-originated packets flooded to the mesh, by packet type.",
		}, []string{labelType}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sessions_active",
			Help: "Number of established Noise sessions.",
		}),

		SessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sessions_failed_total",
			Help: "Total Noise sessions that entered the Failed state, by reason.",
		}, []string{labelReason}),

		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "handshakes_total",
			Help: "Total Noise XX handshakes started, by role (initiator, responder).",
		}, []string{"role"}),

		SeenSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "seen_set_size",
			Help: "Current number of packet IDs held in the dedup seen-set.",
		}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packet_cache_size",
			Help: "Current number of packets held in the sync replay cache.",
		}),

		FragmentsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "fragments_held",
			Help: "Current number of incomplete fragment reassembly entries.",
		}),

		SyncFiltersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sync_filters_sent_total",
			Help: "Total REQUEST_SYNC filters emitted.",
		}),

		SyncRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sync_packets_retransmitted_total",
			Help: "Total packets replayed in response to a peer's REQUEST_SYNC filter.",
		}),

		SyncFiltersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sync_filters_rejected_total",
			Help: "Total incoming REQUEST_SYNC filters rejected for exceeding the size bound or carrying invalid P/M parameters.",
		}),
	}
}

// SessionObserver adapts a Collector to sessionmgr.Observer so the session
// manager's lifecycle events drive SessionsActive/SessionsFailed without
// sessionmgr importing this package.
type SessionObserver struct {
	c *Collector
}

// NewSessionObserver wraps c as a sessionmgr.Observer.
func NewSessionObserver(c *Collector) *SessionObserver {
	return &SessionObserver{c: c}
}

// OnSessionEstablished implements sessionmgr.Observer.
func (s *SessionObserver) OnSessionEstablished(_ packet.PeerID, _ *noisesession.Session) {
	s.c.SessionsActive.Inc()
}

// OnSessionFailed implements sessionmgr.Observer. The label is collapsed to
// a small fixed set of sentinel reasons to keep cardinality bounded; an
// unrecognized error (e.g. a wrapped noise library error) maps to "other".
func (s *SessionObserver) OnSessionFailed(_ packet.PeerID, reason error) {
	s.c.SessionsFailed.WithLabelValues(failureReason(reason)).Inc()
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, noisesession.ErrWrongRole):
		return "wrong_role"
	case errors.Is(err, noisesession.ErrWrongState):
		return "wrong_state"
	case errors.Is(err, noisesession.ErrHandshakeFailed):
		return "handshake_failed"
	case errors.Is(err, noisesession.ErrInvalidMessageSize):
		return "invalid_message_size"
	case errors.Is(err, noisesession.ErrNotEstablished):
		return "not_established"
	case errors.Is(err, noisesession.ErrEncryptionFailed):
		return "encryption_failed"
	case errors.Is(err, noisesession.ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, noisesession.ErrSessionDestroyed):
		return "session_destroyed"
	default:
		return "other"
	}
}
