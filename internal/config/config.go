// Package config manages meshdrop-relay daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides, with optional
// hot-reload on config-file change.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete relay daemon configuration.
type Config struct {
	Peer     PeerConfig     `koanf:"peer"`
	Admin    AdminConfig    `koanf:"admin"`
	Log      LogConfig      `koanf:"log"`
	Liveness LivenessConfig `koanf:"liveness"`
	Transfer TransferConfig `koanf:"transfer"`
}

// PeerConfig holds the public WebSocket listener configuration.
type PeerConfig struct {
	// Addr is the WebSocket listen address (e.g., ":8080").
	Addr string `koanf:"addr"`

	// SendDeadline bounds how long a single outbound Send may block before
	// the connection is treated as failed for that forward.
	SendDeadline time.Duration `koanf:"send_deadline"`

	// MaxChunkBytes is the hard ceiling on a single envelope's encoded
	// size, enforced by the codec ahead of JSON decoding.
	MaxChunkBytes int `koanf:"max_chunk_bytes"`
}

// AdminConfig holds the loopback-able admin/metrics HTTP listener
// configuration. Kept separate from PeerConfig so operators can bind it
// to a private address while the peer surface listens publicly.
type AdminConfig struct {
	// Addr is the HTTP listen address for /v1/sessions, /v1/transfers,
	// and /metrics (e.g., "127.0.0.1:9100").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// LivenessConfig holds the Liveness Monitor's sweep parameters.
type LivenessConfig struct {
	// Window is the staleness cutoff past which a session is evicted.
	Window time.Duration `koanf:"window"`
	// SweepInterval is the period between eviction sweeps.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// TransferConfig holds the Transfer lifecycle's timing parameters.
type TransferConfig struct {
	// IdleTimeout is the chunk-inactivity cutoff that fails an active
	// Transfer.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// IdleSweepInterval is the period between idle-transfer sweeps.
	IdleSweepInterval time.Duration `koanf:"idle_sweep_interval"`
	// CompletionGrace is the delay before a completed Transfer is removed
	// from the table, giving late-arriving chunk-acks somewhere to land.
	CompletionGrace time.Duration `koanf:"completion_grace"`
	// RosterSettleDelay is the delay between a registration's immediate
	// roster broadcast and its follow-up, settled broadcast.
	RosterSettleDelay time.Duration `koanf:"roster_settle_delay"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the defaults enumerated by
// the wire protocol's configurable-options catalogue.
func DefaultConfig() *Config {
	return &Config{
		Peer: PeerConfig{
			Addr:          ":8080",
			SendDeadline:  10 * time.Second,
			MaxChunkBytes: 1<<20 + 4096,
		},
		Admin: AdminConfig{
			Addr: ":9100",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Liveness: LivenessConfig{
			Window:        300 * time.Second,
			SweepInterval: 120 * time.Second,
		},
		Transfer: TransferConfig{
			IdleTimeout:       600 * time.Second,
			IdleSweepInterval: 60 * time.Second,
			CompletionGrace:   30 * time.Second,
			RosterSettleDelay: 300 * time.Millisecond,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for meshdrop-relay
// configuration. Variables are named MESHDROP_<section>_<key>, e.g.
// MESHDROP_PEER_ADDR.
const envPrefix = "MESHDROP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MESHDROP_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	MESHDROP_PEER_ADDR          -> peer.addr
//	MESHDROP_PEER_SEND_DEADLINE -> peer.send_deadline
//	MESHDROP_ADMIN_ADDR         -> admin.addr
//	MESHDROP_LOG_LEVEL          -> log.level
//	MESHDROP_LIVENESS_WINDOW    -> liveness.window
//
// Uses koanf/v2 with file + env providers and a YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MESHDROP_PEER_ADDR -> peer.addr.
// Strips the MESHDROP_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so MESHDROP_PEER_SEND_DEADLINE maps to
// peer.send_deadline.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"peer.addr":                     defaults.Peer.Addr,
		"peer.send_deadline":            defaults.Peer.SendDeadline.String(),
		"peer.max_chunk_bytes":          defaults.Peer.MaxChunkBytes,
		"admin.addr":                    defaults.Admin.Addr,
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
		"liveness.window":               defaults.Liveness.Window.String(),
		"liveness.sweep_interval":       defaults.Liveness.SweepInterval.String(),
		"transfer.idle_timeout":         defaults.Transfer.IdleTimeout.String(),
		"transfer.idle_sweep_interval":  defaults.Transfer.IdleSweepInterval.String(),
		"transfer.completion_grace":     defaults.Transfer.CompletionGrace.String(),
		"transfer.roster_settle_delay":  defaults.Transfer.RosterSettleDelay.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyPeerAddr indicates the WebSocket listen address is empty.
	ErrEmptyPeerAddr = errors.New("peer.addr must not be empty")

	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidSendDeadline indicates the outbound send deadline is not positive.
	ErrInvalidSendDeadline = errors.New("peer.send_deadline must be > 0")

	// ErrInvalidMaxChunkBytes indicates the envelope size ceiling is not positive.
	ErrInvalidMaxChunkBytes = errors.New("peer.max_chunk_bytes must be > 0")

	// ErrInvalidLivenessWindow indicates the liveness staleness window is not positive.
	ErrInvalidLivenessWindow = errors.New("liveness.window must be > 0")

	// ErrInvalidLivenessSweep indicates the liveness sweep interval is not positive.
	ErrInvalidLivenessSweep = errors.New("liveness.sweep_interval must be > 0")

	// ErrInvalidIdleTimeout indicates the transfer idle timeout is not positive.
	ErrInvalidIdleTimeout = errors.New("transfer.idle_timeout must be > 0")

	// ErrInvalidIdleSweep indicates the idle-transfer sweep interval is not positive.
	ErrInvalidIdleSweep = errors.New("transfer.idle_sweep_interval must be > 0")

	// ErrInvalidCompletionGrace indicates the completion grace period is negative.
	ErrInvalidCompletionGrace = errors.New("transfer.completion_grace must be >= 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Peer.Addr == "" {
		return ErrEmptyPeerAddr
	}
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	if cfg.Peer.SendDeadline <= 0 {
		return ErrInvalidSendDeadline
	}
	if cfg.Peer.MaxChunkBytes <= 0 {
		return ErrInvalidMaxChunkBytes
	}
	if cfg.Liveness.Window <= 0 {
		return ErrInvalidLivenessWindow
	}
	if cfg.Liveness.SweepInterval <= 0 {
		return ErrInvalidLivenessSweep
	}
	if cfg.Transfer.IdleTimeout <= 0 {
		return ErrInvalidIdleTimeout
	}
	if cfg.Transfer.IdleSweepInterval <= 0 {
		return ErrInvalidIdleSweep
	}
	if cfg.Transfer.CompletionGrace < 0 {
		return ErrInvalidCompletionGrace
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
