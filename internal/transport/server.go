package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshdrop/relay/internal/relay"
)

// Server adapts relay.Router onto net/http: one upgraded WebSocket per
// device on the peer-facing mux, and read-only JSON/Prometheus endpoints
// on a separate admin mux. The two are kept on separate http.ServeMux
// values so an operator can bind the admin surface to a loopback-only
// address in production while the peer surface listens publicly.
type Server struct {
	router    *relay.Router
	registry  *relay.Registry
	transfers *relay.TransferTable
	codec     *relay.Codec

	upgrader     websocket.Upgrader
	sendDeadline time.Duration

	logger *slog.Logger
}

// Option configures optional Server parameters.
type Option func(*Server)

// WithSendDeadline overrides the default per-connection send deadline.
func WithSendDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sendDeadline = d
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check, e.g. to restrict
// which origins may open a WebSocket in a browser deployment.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer wires a Server over an already-constructed Router, Registry,
// and TransferTable. codec must be the same Codec instance passed to
// relay.NewRouter, so the envelope-size limit and known-type set used to
// peek a connection's first frame match what Dispatch itself enforces.
func NewServer(router *relay.Router, registry *relay.Registry, transfers *relay.TransferTable, codec *relay.Codec, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:       router,
		registry:     registry,
		transfers:    transfers,
		codec:        codec,
		sendDeadline: DefaultSendDeadline,
		logger:       logger.With(slog.String("component", "transport.server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PeerMux returns the mux exposing the peer-facing WebSocket endpoint.
func (s *Server) PeerMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	return mux
}

// AdminMux returns the mux exposing read-only session/transfer snapshots
// and the Prometheus exposition endpoint backed by reg.
func (s *Server) AdminMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/transfers", s.handleTransfers)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, s.registry.Snapshot())
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, s.transfers.Snapshot())
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode admin response", slog.String("error", err.Error()))
	}
}

// handleWebSocket upgrades the connection, completes registration from
// its first frame, and then reads frames in a loop, dispatching each to
// the Router until the connection closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := NewConn(ws, s.logger, s.sendDeadline)

	sessionID, firstUnhandled, ok := s.registerFromFirstFrame(conn)
	if !ok {
		conn.Close()
		return
	}

	done := make(chan struct{})
	go conn.runKeepalive(done)
	defer close(done)

	if firstUnhandled != nil {
		s.router.Dispatch(sessionID, firstUnhandled)
	}

	s.readLoop(sessionID, conn)
}

// registerFromFirstFrame reads the connection's first frame and completes
// registration from it. If the first frame is itself a "register"
// message, it is consumed entirely by registration and firstUnhandled is
// nil. Otherwise registration proceeds with an empty device name and the
// frame is returned so the caller dispatches it normally, matching the
// permissive deviceName optionality the wire catalogue allows.
func (s *Server) registerFromFirstFrame(conn *Conn) (sessionID string, firstUnhandled []byte, ok bool) {
	raw, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("read first frame failed", slog.String("error", err.Error()))
		return "", nil, false
	}

	env, err := s.codec.Decode(raw)
	if err != nil {
		s.logger.Warn("malformed first frame", slog.String("error", err.Error()))
		return "", nil, false
	}

	var data relay.RegisterData
	if env.Type == relay.TypeRegister {
		if err := relay.DecodeData(env, &data); err != nil {
			s.logger.Warn("malformed register payload", slog.String("error", err.Error()))
			return "", nil, false
		}
		raw = nil
	}

	sess, err := s.router.Register(conn, data)
	if err != nil {
		s.logger.Warn("register failed", slog.String("error", err.Error()))
		return "", nil, false
	}

	return sess.ID, raw, true
}

// readLoop reads frames for sessionID until the connection errs or
// closes, dispatching each to the Router, then tears the session down.
func (s *Server) readLoop(sessionID string, conn *Conn) {
	defer s.router.Disconnect(sessionID)

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.router.Dispatch(sessionID, raw)
	}
}
