package relay

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// UnregisterHook is invoked by the Registry after a session is removed,
// before the roster broadcast fires. The Router wires its own
// cancel-outstanding-transfers logic in here, keeping the Registry
// itself ignorant of the Transfer Table.
type UnregisterHook func(sessionID string)

// RegistryOption configures optional Registry parameters.
type RegistryOption func(*Registry)

// WithRegistryMetrics sets the MetricsReporter used by the Registry. A
// nil reporter is ignored and the no-op reporter remains in place.
func WithRegistryMetrics(mr MetricsReporter) RegistryOption {
	return func(r *Registry) {
		if mr != nil {
			r.metrics = mr
		}
	}
}

// WithRosterSettleDelay overrides the default settle delay between a
// session's immediate roster broadcast and its follow-up broadcast.
func WithRosterSettleDelay(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.settleDelay = d
		}
	}
}

// defaultRosterSettleDelay is the default delay before the second,
// settled roster broadcast after a registration.
const defaultRosterSettleDelay = 300 * time.Millisecond

// Registry is the authoritative set of live peer sessions.
// It exclusively owns Sessions: all mutation to a Session's device name
// or heartbeat passes through the Registry or through methods it exposes
// on the Session values it hands out.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	allocator *TokenAllocator

	unregisterHook UnregisterHook

	settleDelay time.Duration
	metrics     MetricsReporter
	logger      *slog.Logger

	now func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		allocator:   NewTokenAllocator(),
		settleDelay: defaultRosterSettleDelay,
		metrics:     noopMetrics{},
		logger:      logger.With(slog.String("component", "relay.registry")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetUnregisterHook installs the callback run when a session is removed.
// Must be called once, before any sessions register; the Router calls
// this during coordinator wiring.
func (r *Registry) SetUnregisterHook(hook UnregisterHook) {
	r.unregisterHook = hook
}

// AllocateSessionID mints a fresh opaque session-id, or reserves a
// client-declared userId if one was supplied in the register message.
// Returns ErrDuplicateSession if a declared userId is already in use.
func (r *Registry) AllocateSessionID(declared string) (string, error) {
	if declared == "" {
		return r.allocator.Allocate()
	}
	if err := r.allocator.Reserve(declared); err != nil {
		return "", err
	}
	return declared, nil
}

// Register inserts a new Session. Fails with ErrDuplicateSession if
// sessionID already names a live session -- the caller must choose a new
// id. On success, schedules an immediate roster broadcast plus a settled
// follow-up broadcast after the configured delay.
func (r *Registry) Register(sessionID, deviceName string, handle OutboundHandle) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register session %s: %w", sessionID, ErrDuplicateSession)
	}

	sess := newSession(sessionID, deviceName, handle, r.now())
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	r.metrics.SessionRegistered()
	r.logger.Info("session registered",
		slog.String("session_id", sessionID),
		slog.String("device_name", deviceName),
	)

	r.BroadcastRoster()
	time.AfterFunc(r.settleDelay, r.settledBroadcast)

	return sess, nil
}

// settledBroadcast fires the delayed second roster broadcast scheduled by
// Register, absorbing bursts of near-simultaneous arrivals into one
// extra, consistent broadcast.
func (r *Registry) settledBroadcast() {
	r.BroadcastRoster()
}

// UpdateDeviceName overwrites a session's declared device name and
// schedules a roster broadcast.
func (r *Registry) UpdateDeviceName(sessionID, newName string) error {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("update device name for %s: %w", sessionID, ErrSessionNotFound)
	}

	sess.setDeviceName(newName)
	r.BroadcastRoster()

	return nil
}

// Touch refreshes a session's liveness clock. Called by the Router for
// every envelope that passes codec validation.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if ok {
		sess.touch(r.now())
	}
}

// Lookup returns the live Session for id, if any.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// Unregister removes the Session identified by sessionID, runs the
// configured UnregisterHook (cancelling the session's outstanding
// Transfers), releases its session-id token, and schedules a roster
// broadcast. A call for an id with no live session is a no-op.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.allocator.Release(sessionID)

	if err := sess.handle.Close(); err != nil {
		r.logger.Debug("close session handle", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}

	if r.unregisterHook != nil {
		r.unregisterHook(sessionID)
	}

	r.metrics.SessionUnregistered()
	r.logger.Info("session unregistered", slog.String("session_id", sessionID))

	r.BroadcastRoster()
}

// Send attempts to deliver an envelope to sessionID's outbound handle.
// Returns false if the session is unknown or the handle reports a send
// failure (timeout or closed connection) -- either way the caller
// (Router) treats this the same as a missing destination and never
// unregisters the session itself: eviction is the Liveness Monitor's
// decision alone.
func (r *Registry) Send(sessionID string, msgType MessageType, data any) bool {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := sess.handle.Send(msgType, data); err != nil {
		r.logger.Debug("send failed",
			slog.String("session_id", sessionID),
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()),
		)
		return false
	}

	return true
}

// BroadcastRoster sends "devices" to every live session, each containing
// the full roster including the recipient's own entry. The
// roster is recomputed fresh on every call; no stale cache is kept.
func (r *Registry) BroadcastRoster() {
	r.mu.RLock()
	entries := make([]RosterEntryData, 0, len(r.sessions))
	recipients := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		entries = append(entries, RosterEntryData{
			ID:   sess.ID,
			Name: rosterDisplayName(sess.DeviceName(), sess.ID),
		})
		recipients = append(recipients, sess)
	}
	r.mu.RUnlock()

	data := DevicesData{Devices: entries}

	for _, sess := range recipients {
		if err := sess.handle.Send(TypeDevices, data); err != nil {
			r.logger.Debug("roster broadcast failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.metrics.RosterBroadcast(len(recipients))
}

// Snapshot returns a read-only view of every live session, sorted by
// session-id, for the admin /v1/sessions endpoint. Copies every field so
// callers never retain a reference into Registry-owned storage across a
// suspension point.
type SessionSnapshot struct {
	ID            string    `json:"id"`
	DeviceName    string    `json:"deviceName"`
	DisplayName   string    `json:"displayName"`
	ConnectTime   time.Time `json:"connectTime"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Snapshot returns a point-in-time copy of every live session.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, SessionSnapshot{
			ID:            sess.ID,
			DeviceName:    sess.DeviceName(),
			DisplayName:   rosterDisplayName(sess.DeviceName(), sess.ID),
			ConnectTime:   sess.ConnectTime(),
			LastHeartbeat: sess.LastHeartbeat(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
