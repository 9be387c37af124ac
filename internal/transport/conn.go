// Package transport wires the relay coordinator's Router onto a concrete
// network surface: one WebSocket connection per device, plus the admin
// HTTP mux that exposes session/transfer snapshots and Prometheus
// metrics.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshdrop/relay/internal/relay"
)

// DefaultSendDeadline is the default per-send deadline; exceeding it
// counts as a failed delivery, not a disconnect decision -- that remains
// the Liveness Monitor's call.
const DefaultSendDeadline = 10 * time.Second

// DefaultPongWait is how long a connection is allowed to go without a
// pong reply before the read loop treats it as dead.
const DefaultPongWait = 60 * time.Second

// pingPeriod is how often the connection sends a WebSocket-protocol ping,
// kept comfortably inside DefaultPongWait.
const pingPeriod = (DefaultPongWait * 9) / 10

// maxReadBytes bounds a single inbound frame, independent of the codec's
// own envelope-size limit, to stop an oversized frame from ever reaching
// the JSON decoder.
const maxReadBytes = 8 << 20

// Conn wraps one gorilla/websocket connection and implements
// relay.OutboundHandle. All writes -- ordinary envelope sends and the
// protocol-level keepalive ping -- go through writeMu, since a
// *websocket.Conn supports at most one concurrent writer.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu      sync.Mutex
	sendDeadline time.Duration

	closeOnce sync.Once
}

// NewConn wraps ws, configuring its read limits and pong handler.
func NewConn(ws *websocket.Conn, logger *slog.Logger, sendDeadline time.Duration) *Conn {
	if sendDeadline <= 0 {
		sendDeadline = DefaultSendDeadline
	}

	c := &Conn{
		ws:           ws,
		logger:       logger,
		sendDeadline: sendDeadline,
	}

	ws.SetReadLimit(maxReadBytes)
	ws.SetReadDeadline(time.Now().Add(DefaultPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(DefaultPongWait))
	})

	return c
}

// Send marshals data as the JSON body of a {type, data} envelope and
// writes it as one text frame, honoring the per-send deadline. A
// marshal failure never reaches the wire and is reported to the caller
// as the same kind of delivery failure as a network timeout.
func (c *Conn) Send(msgType relay.MessageType, data any) error {
	body, err := json.Marshal(struct {
		Type relay.MessageType `json:"type"`
		Data any               `json:"data,omitempty"`
	}{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope type %s: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.sendDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("write envelope type %s: %w", msgType, err)
	}

	return nil
}

// ping writes a protocol-level ping frame, used by runKeepalive between
// application-level "ping"/"pong" envelopes to detect a half-open TCP
// connection the peer never explicitly closed.
func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.sendDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.sendDeadline))
}

// Close closes the underlying connection. Idempotent: repeated calls
// (e.g. from both the read loop's error path and the Registry's
// Unregister) never return an error after the first successful close.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

// ReadMessage reads the next text frame's payload, for the transport's
// accept-loop read goroutine. It is not part of relay.OutboundHandle;
// only the server's per-connection read loop calls it.
func (c *Conn) ReadMessage() ([]byte, error) {
	msgType, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
		return nil, errors.New("read message: unexpected websocket frame type")
	}
	return payload, nil
}

// runKeepalive sends a protocol ping every pingPeriod until done is
// closed, so idle connections with no application traffic still refresh
// their pong deadline.
func (c *Conn) runKeepalive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.logger.Debug("keepalive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

var _ relay.OutboundHandle = (*Conn)(nil)
