// Package metrics adapts the relay coordinator's domain events onto
// Prometheus, implementing relay.MetricsReporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshdrop/relay/internal/relay"
)

const namespace = "meshdrop"
const subsystem = "relay"

// -------------------------------------------------------------------------
// Collector — Prometheus Relay Metrics
// -------------------------------------------------------------------------

// Collector holds all relay Prometheus metrics and implements
// relay.MetricsReporter.
type Collector struct {
	// Sessions tracks the number of currently registered peer sessions.
	Sessions prometheus.Gauge

	// SessionsEvicted counts sessions removed by the Liveness Monitor for
	// missing the staleness window, as distinct from an orderly disconnect.
	SessionsEvicted prometheus.Counter

	// TransfersActive tracks transfers currently in a live (non-terminal)
	// state.
	TransfersActive prometheus.Gauge

	// TransfersEnded counts transfers reaching a terminal state, labeled
	// by the state reached.
	TransfersEnded *prometheus.CounterVec

	// ChunksRelayed counts file-chunk envelopes forwarded from sender to
	// receiver.
	ChunksRelayed prometheus.Counter

	// ChunksDuplicate counts file-chunk envelopes whose index had already
	// been accepted into the Transfer.
	ChunksDuplicate prometheus.Counter

	// RosterBroadcasts counts calls to BroadcastRoster.
	RosterBroadcasts prometheus.Counter

	// RosterBroadcastRecipients is the distribution of recipient counts
	// per roster broadcast, useful for spotting broadcast storms.
	RosterBroadcastRecipients prometheus.Histogram
}

// NewCollector creates a Collector with all relay metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.SessionsEvicted,
		c.TransfersActive,
		c.TransfersEnded,
		c.ChunksRelayed,
		c.ChunksDuplicate,
		c.RosterBroadcasts,
		c.RosterBroadcastRecipients,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently registered peer sessions.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_evicted_total",
			Help:      "Total sessions removed by the liveness monitor for missing the staleness window.",
		}),
		TransfersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_active",
			Help:      "Number of transfers currently in a non-terminal state.",
		}),
		TransfersEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_ended_total",
			Help:      "Total transfers reaching a terminal state, labeled by the state reached.",
		}, []string{"state"}),
		ChunksRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunks_relayed_total",
			Help:      "Total file-chunk envelopes forwarded from sender to receiver.",
		}),
		ChunksDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunks_duplicate_total",
			Help:      "Total file-chunk envelopes whose index had already been accepted.",
		}),
		RosterBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "roster_broadcasts_total",
			Help:      "Total roster broadcasts sent.",
		}),
		RosterBroadcastRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "roster_broadcast_recipients",
			Help:      "Distribution of recipient counts per roster broadcast.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
	}
}

// -------------------------------------------------------------------------
// relay.MetricsReporter
// -------------------------------------------------------------------------

// SessionRegistered implements relay.MetricsReporter.
func (c *Collector) SessionRegistered() {
	c.Sessions.Inc()
}

// SessionUnregistered implements relay.MetricsReporter.
func (c *Collector) SessionUnregistered() {
	c.Sessions.Dec()
}

// SessionEvicted implements relay.MetricsReporter.
func (c *Collector) SessionEvicted() {
	c.SessionsEvicted.Inc()
}

// TransferStarted implements relay.MetricsReporter.
func (c *Collector) TransferStarted() {
	c.TransfersActive.Inc()
}

// TransferEnded implements relay.MetricsReporter.
func (c *Collector) TransferEnded(state relay.TransferState) {
	c.TransfersActive.Dec()
	c.TransfersEnded.WithLabelValues(state.String()).Inc()
}

// ChunkRelayed implements relay.MetricsReporter.
func (c *Collector) ChunkRelayed() {
	c.ChunksRelayed.Inc()
}

// ChunkDuplicate implements relay.MetricsReporter.
func (c *Collector) ChunkDuplicate() {
	c.ChunksDuplicate.Inc()
}

// RosterBroadcast implements relay.MetricsReporter.
func (c *Collector) RosterBroadcast(recipients int) {
	c.RosterBroadcasts.Inc()
	c.RosterBroadcastRecipients.Observe(float64(recipients))
}

var _ relay.MetricsReporter = (*Collector)(nil)
