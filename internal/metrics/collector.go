// Package metrics implements the transport's Prometheus metric surface:
// per-interface TX queue depth and drop counts, frame-level reassembly
// counters, and session lifecycle gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "cyudp"
	subsystem = "transport"
)

const (
	labelInterface = "interface"
	labelKind      = "kind"
)

// Collector holds every Prometheus metric this transport exposes,
// grounded on gobfd's own Collector: one GaugeVec per live-count, one
// CounterVec per monotonically increasing event.
type Collector struct {
	// OutputSessions and InputSessions track currently registered
	// sessions, labeled by DataKind (section 4.6 registries).
	OutputSessions *prometheus.GaugeVec
	InputSessions  *prometheus.GaugeVec

	// TXQueueDepth is the current byte occupancy of each interface's TX
	// queue (section 3.6).
	TXQueueDepth *prometheus.GaugeVec
	// TXQueueDropped counts items dropped from a TX queue due to
	// deadline expiry (section 4.5).
	TXQueueDropped *prometheus.CounterVec

	// FramesAccepted, FramesRejected and TransfersTimedOut mirror
	// InputSessionStats (section 4.4, 4.8) as cumulative counters.
	FramesAccepted    prometheus.Counter
	FramesRejected    *prometheus.CounterVec
	TransfersTimedOut prometheus.Counter

	// ArenaDenied counts Arena.Get calls refused because an arena's
	// configured limit was reached (section 11).
	ArenaDenied *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.OutputSessions,
		c.InputSessions,
		c.TXQueueDepth,
		c.TXQueueDropped,
		c.FramesAccepted,
		c.FramesRejected,
		c.TransfersTimedOut,
		c.ArenaDenied,
	)

	return c
}

func newMetrics() *Collector {
	kindLabels := []string{labelKind}
	ifaceLabels := []string{labelInterface}

	return &Collector{
		OutputSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "output_sessions",
			Help:      "Number of registered output sessions.",
		}, kindLabels),

		InputSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "input_sessions",
			Help:      "Number of registered input sessions.",
		}, kindLabels),

		TXQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_queue_depth_bytes",
			Help:      "Current byte occupancy of a per-interface TX queue.",
		}, ifaceLabels),

		TXQueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_queue_dropped_total",
			Help:      "Total TX queue items dropped due to deadline expiry.",
		}, ifaceLabels),

		FramesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_accepted_total",
			Help:      "Total frames accepted by a reassembler.",
		}),

		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_rejected_total",
			Help:      "Total frames rejected during reassembly, labeled by reason.",
		}, []string{"reason"}),

		TransfersTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_timed_out_total",
			Help:      "Total partial transfers discarded after the transfer-ID timeout.",
		}),

		ArenaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arena_denied_total",
			Help:      "Total Arena.Get calls refused because the arena's limit was reached.",
		}, []string{"arena"}),
	}
}

// RegisterOutputSession increments the output session gauge for kind.
func (c *Collector) RegisterOutputSession(kind string) {
	c.OutputSessions.WithLabelValues(kind).Inc()
}

// UnregisterOutputSession decrements the output session gauge for kind.
func (c *Collector) UnregisterOutputSession(kind string) {
	c.OutputSessions.WithLabelValues(kind).Dec()
}

// RegisterInputSession increments the input session gauge for kind.
func (c *Collector) RegisterInputSession(kind string) {
	c.InputSessions.WithLabelValues(kind).Inc()
}

// UnregisterInputSession decrements the input session gauge for kind.
func (c *Collector) UnregisterInputSession(kind string) {
	c.InputSessions.WithLabelValues(kind).Dec()
}

// SetTXQueueDepth records iface's current TX queue byte occupancy.
func (c *Collector) SetTXQueueDepth(iface string, bytes int) {
	c.TXQueueDepth.WithLabelValues(iface).Set(float64(bytes))
}

// AddTXQueueDropped adds n to iface's dropped-item counter.
func (c *Collector) AddTXQueueDropped(iface string, n uint64) {
	c.TXQueueDropped.WithLabelValues(iface).Add(float64(n))
}

// ObserveInputStats folds an InputSessionStats snapshot's deltas into the
// frame-level counters. Callers pass the delta since the last call, not
// the running total.
func (c *Collector) ObserveInputStats(acceptedDelta, crcDelta, orderDelta, timeoutDelta, oversizeDelta uint64) {
	c.FramesAccepted.Add(float64(acceptedDelta))
	c.FramesRejected.WithLabelValues("crc").Add(float64(crcDelta))
	c.FramesRejected.WithLabelValues("order").Add(float64(orderDelta))
	c.FramesRejected.WithLabelValues("oversize").Add(float64(oversizeDelta))
	c.TransfersTimedOut.Add(float64(timeoutDelta))
}

// IncArenaDenied increments the denied-allocation counter for arena.
func (c *Collector) IncArenaDenied(arena string) {
	c.ArenaDenied.WithLabelValues(arena).Inc()
}
