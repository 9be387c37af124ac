package relay

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLivenessWindow is the default staleness cutoff.
const DefaultLivenessWindow = 300 * time.Second

// DefaultLivenessSweep is the default sweep period.
const DefaultLivenessSweep = 120 * time.Second

// LivenessMonitor detects and evicts sessions whose last-heartbeat-time
// has fallen behind the staleness window, without disturbing sessions
// that are still exchanging envelopes.
//
// Heartbeat refresh itself is just Registry.Touch, called by the Router
// for every envelope that passes codec validation; LivenessMonitor only
// owns the periodic sweep.
type LivenessMonitor struct {
	registry *Registry
	window   time.Duration
	sweep    time.Duration
	logger   *slog.Logger
	metrics  MetricsReporter

	now func() time.Time
}

// LivenessOption configures optional LivenessMonitor parameters.
type LivenessOption func(*LivenessMonitor)

// WithLivenessWindow overrides the default staleness window.
func WithLivenessWindow(d time.Duration) LivenessOption {
	return func(m *LivenessMonitor) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithLivenessSweepInterval overrides the default sweep period.
func WithLivenessSweepInterval(d time.Duration) LivenessOption {
	return func(m *LivenessMonitor) {
		if d > 0 {
			m.sweep = d
		}
	}
}

// WithLivenessMetrics sets the MetricsReporter used by the monitor.
func WithLivenessMetrics(mr MetricsReporter) LivenessOption {
	return func(m *LivenessMonitor) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// NewLivenessMonitor constructs a LivenessMonitor sweeping registry for
// stale sessions.
func NewLivenessMonitor(registry *Registry, logger *slog.Logger, opts ...LivenessOption) *LivenessMonitor {
	m := &LivenessMonitor{
		registry: registry,
		window:   DefaultLivenessWindow,
		sweep:    DefaultLivenessSweep,
		logger:   logger.With(slog.String("component", "relay.liveness")),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks, sweeping for stale sessions every sweep interval, until ctx
// is cancelled. Intended to run under an errgroup alongside the
// transport's accept loop. Eviction and concurrent arrivals on the same
// session-id are serialized by the Registry's own mutex, not by any
// ordering LivenessMonitor imposes.
func (m *LivenessMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce evicts every session whose last heartbeat predates the
// staleness window.
func (m *LivenessMonitor) sweepOnce() {
	cutoff := m.now().Add(-m.window)

	for _, snap := range m.registry.Snapshot() {
		if snap.LastHeartbeat.Before(cutoff) {
			m.logger.Info("evicting stale session",
				slog.String("session_id", snap.ID),
				slog.Time("last_heartbeat", snap.LastHeartbeat),
			)
			m.metrics.SessionEvicted()
			m.registry.Unregister(snap.ID)
		}
	}
}
