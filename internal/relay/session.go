package relay

import (
	"sync/atomic"
	"time"
)

// OutboundHandle is how the Registry and Router deliver an envelope to a
// session's transport connection without depending on the transport
// package. internal/transport's Conn implements this.
type OutboundHandle interface {
	// Send writes one envelope of the given type to the peer. It must not
	// block longer than the caller's deadline; implementations enforce
	// the outbound-send-deadline themselves and return an error
	// on timeout or a closed connection.
	Send(msgType MessageType, data any) error

	// Close tears down the underlying connection. Called by the Registry
	// on unregister so a liveness eviction or explicit logout also drops
	// the transport.
	Close() error
}

// deviceClassTokens lists the declared device-name prefixes recognized
// for roster display-name derivation. Checked in order;
// the first match wins.
var deviceClassTokens = []string{
	"Windows PC",
	"Mac",
	"iPhone",
	"iPad",
	"Android",
	"Linux PC",
}

// classDisplayName maps a recognized class token to its short roster
// display prefix.
var classDisplayName = map[string]string{
	"Windows PC": "PC",
	"Mac":        "Mac",
	"iPhone":     "iPhone",
	"iPad":       "iPad",
	"Android":    "Android",
	"Linux PC":   "Linux",
}

// Session is one connected peer's live relationship with the coordinator,
// identified by a short opaque session-id.
//
// Sessions do not hold references to Transfers; the Router resolves a
// Transfer's counter-peer through the Registry by id at forward time, so
// a disconnect never leaves a stale handle behind.
type Session struct {
	ID        string
	connectAt time.Time
	handle    OutboundHandle

	deviceName atomic.Pointer[string]

	// lastHeartbeat is a UnixNano timestamp refreshed (via Registry.Touch
	// from the Router) on every inbound envelope the codec accepts.
	// atomic.Int64 lets the sweep goroutine read it without taking the
	// Registry lock.
	lastHeartbeat atomic.Int64
}

// newSession constructs a Session in the "just connected" state: its
// heartbeat clock starts now, exactly as if an envelope had just arrived,
// so a session is never evicted before the Liveness Monitor has seen it
// run through one sweep interval.
func newSession(id, deviceName string, handle OutboundHandle, now time.Time) *Session {
	s := &Session{
		ID:        id,
		connectAt: now,
		handle:    handle,
	}
	s.deviceName.Store(&deviceName)
	s.lastHeartbeat.Store(now.UnixNano())
	return s
}

// DeviceName returns the session's current declared device name.
func (s *Session) DeviceName() string {
	return *s.deviceName.Load()
}

// setDeviceName overwrites the declared device name.
func (s *Session) setDeviceName(name string) {
	s.deviceName.Store(&name)
}

// ConnectTime returns when the session was registered.
func (s *Session) ConnectTime() time.Time {
	return s.connectAt
}

// LastHeartbeat returns the last time any inbound envelope refreshed this
// session's liveness clock.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// touch refreshes the liveness clock. Called through Registry.Touch for
// every inbound envelope that reached the Router -- malformed/rejected
// envelopes never call this.
func (s *Session) touch(now time.Time) {
	s.lastHeartbeat.Store(now.UnixNano())
}

// RosterEntry is the derived, broadcast-ready projection of a Session.
type RosterEntry struct {
	ID   string
	Name string
}

// rosterDisplayName derives a Session's roster display name: a
// recognized device-class prefix becomes "<short class name>-<suffix>"
// using classDisplayName (e.g. "Windows PC" -> "PC-<suffix>"), otherwise
// "<device-name>-<suffix>", where suffix is the first
// rosterSuffixLen characters of the session-id.
func rosterDisplayName(deviceName, sessionID string) string {
	suffix := rosterSuffix(sessionID)

	for _, token := range deviceClassTokens {
		if deviceName == token || hasPrefixWord(deviceName, token) {
			return classDisplayName[token] + "-" + suffix
		}
	}

	name := deviceName
	if name == "" {
		name = "Unknown"
	}

	return name + "-" + suffix
}

// hasPrefixWord reports whether s begins with token as a whole word: an
// exact prefix, or a prefix followed by a separator, so "iPhone 15 Pro"
// still matches "iPhone" without "iPhoneX" also matching it incorrectly.
func hasPrefixWord(s, token string) bool {
	if len(s) <= len(token) || s[:len(token)] != token {
		return false
	}
	switch s[len(token)] {
	case ' ', '-', '_', '(':
		return true
	default:
		return false
	}
}
