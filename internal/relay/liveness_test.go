package relay_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/meshdrop/relay/internal/relay"
)

// TestLivenessMonitorEvictsOnlyStaleSessions verifies that a session with a
// heartbeat older than the window is evicted by the sweep while a session
// refreshed within the window survives it.
func TestLivenessMonitorEvictsOnlyStaleSessions(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	reg := relay.NewRegistry(logger, relay.WithRosterSettleDelay(time.Hour))

	staleHandle := newFakeHandle()
	freshHandle := newFakeHandle()

	reg.Register("stale", "Mac", staleHandle)
	reg.Register("fresh", "iPhone", freshHandle)

	monitor := relay.NewLivenessMonitor(
		reg, logger,
		relay.WithLivenessWindow(30*time.Millisecond),
		relay.WithLivenessSweepInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	// Keep refreshing "fresh" throughout the window so it never goes stale,
	// while "stale" receives no further touches.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		reg.Touch("fresh")
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	if _, ok := reg.Lookup("stale"); ok {
		t.Error("stale session survived the liveness sweep")
	}
	if _, ok := reg.Lookup("fresh"); !ok {
		t.Error("fresh session was evicted by the liveness sweep")
	}
}

func TestLivenessMonitorRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	reg := relay.NewRegistry(logger)
	monitor := relay.NewLivenessMonitor(reg, logger, relay.WithLivenessSweepInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
