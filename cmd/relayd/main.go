// meshdrop-relay daemon -- peer-to-peer file transfer signaling and chunk
// relay coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/meshdrop/relay/internal/config"
	"github.com/meshdrop/relay/internal/metrics"
	"github.com/meshdrop/relay/internal/relay"
	"github.com/meshdrop/relay/internal/transport"
	appversion "github.com/meshdrop/relay/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("meshdrop-relay starting",
		slog.String("version", appversion.Version),
		slog.String("peer_addr", cfg.Peer.Addr),
		slog.String("admin_addr", cfg.Admin.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	codec := relay.NewCodec(cfg.Peer.MaxChunkBytes)
	registry := relay.NewRegistry(logger,
		relay.WithRegistryMetrics(collector),
		relay.WithRosterSettleDelay(cfg.Transfer.RosterSettleDelay),
	)
	transfers := relay.NewTransferTable()
	router := relay.NewRouter(codec, registry, transfers, logger,
		relay.WithRouterMetrics(collector),
		relay.WithCompletionGrace(cfg.Transfer.CompletionGrace),
		relay.WithTransferIdleTimeout(cfg.Transfer.IdleTimeout),
		relay.WithIdleSweepInterval(cfg.Transfer.IdleSweepInterval),
	)

	liveness := relay.NewLivenessMonitor(registry, logger,
		relay.WithLivenessWindow(cfg.Liveness.Window),
		relay.WithLivenessSweepInterval(cfg.Liveness.SweepInterval),
		relay.WithLivenessMetrics(collector),
	)

	srv := transport.NewServer(router, registry, transfers, codec, logger,
		transport.WithSendDeadline(cfg.Peer.SendDeadline),
	)

	if err := runServers(cfg, srv, reg, router, liveness, logger, *configPath, logLevel); err != nil {
		logger.Error("meshdrop-relay exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("meshdrop-relay stopped")
	return 0
}

// runServers wires the peer-facing and admin HTTP servers, the Router's
// idle sweep, and the Liveness Monitor's eviction sweep into an errgroup
// with a signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	srv *transport.Server,
	reg *prometheus.Registry,
	router *relay.Router,
	liveness *relay.LivenessMonitor,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	peerSrv := newPeerServer(cfg.Peer, srv)
	adminSrv := newAdminServer(cfg.Admin, srv, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, peerSrv, adminSrv, logger)

	g.Go(func() error {
		return router.RunIdleSweep(gCtx)
	})
	g.Go(func() error {
		return liveness.Run(gCtx)
	})

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gCtx, configPath, logger, func(newCfg *config.Config) {
				logLevel.Set(config.ParseLogLevel(newCfg.Log.Level))
			})
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, peerSrv, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the peer-facing and admin HTTP server
// goroutines.
func startHTTPServers(ctx context.Context, g *errgroup.Group, cfg *config.Config, peerSrv, adminSrv *http.Server, logger *slog.Logger) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("peer server listening", slog.String("addr", cfg.Peer.Addr))
		return listenAndServe(ctx, &lc, peerSrv, cfg.Peer.Addr)
	})

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})
}

func newPeerServer(cfg config.PeerConfig, srv *transport.Server) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.PeerMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newAdminServer(cfg config.AdminConfig, srv *transport.Server, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.AdminMux(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via config hot-reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
