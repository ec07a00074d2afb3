package bridge

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the bridge components.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnectionListener receives device lifecycle notifications from the
// Registry. Listeners are invoked after the registry mutation completes,
// outside the registry lock, in registration order.
type ConnectionListener interface {
	DeviceConnected(deviceID string)
	DeviceDisconnected(deviceID string)
}

// Session is a snapshot of one connected device, as reported by the
// health and devices APIs.
type Session struct {
	DeviceID    string    `json:"device_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// session is the registry's internal record for a connected device. The
// channel handle lives here and nowhere else.
type session struct {
	channel     Channel
	connectedAt time.Time
	lastSeenAt  time.Time
	userAgent   string
}

// Registry maps device identifiers to their live channel handles.
//
// A device that reconnects replaces its previous channel; the old handle
// is considered stale from that moment and a later Unregister carrying it
// does not disturb the new mapping.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	listenerMu sync.RWMutex
	listeners  []ConnectionListener

	logger Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddListener registers a lifecycle listener. Listeners added after
// devices have already connected receive notifications only for
// subsequent events.
func (r *Registry) AddListener(l ConnectionListener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// Register stores the channel for deviceID, replacing any existing one.
// The previous channel, if any, is stale from this point on: replies sent
// through it are ignored and its Unregister call is a no-op.
func (r *Registry) Register(deviceID string, ch Channel, userAgent string) {
	now := time.Now().UTC()

	r.mu.Lock()
	replaced := false
	if _, ok := r.sessions[deviceID]; ok {
		replaced = true
	}
	r.sessions[deviceID] = &session{
		channel:     ch,
		connectedAt: now,
		lastSeenAt:  now,
		userAgent:   userAgent,
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("device connected",
		"device_id", deviceID,
		"replaced", replaced,
		"devices", count,
	)

	for _, l := range r.snapshotListeners() {
		l.DeviceConnected(deviceID)
	}
}

// Unregister removes the mapping for deviceID, but only when the stored
// channel is the one being closed. This guards against the race where a
// new connection already replaced the old one: the old connection's
// teardown must not tear down the new session.
//
// Returns true when a mapping was actually removed.
func (r *Registry) Unregister(deviceID string, ch Channel) bool {
	r.mu.Lock()
	s, ok := r.sessions[deviceID]
	if !ok || s.channel != ch {
		r.mu.Unlock()
		if ok {
			r.logger.Debug("stale unregister ignored", "device_id", deviceID)
		}
		return false
	}
	delete(r.sessions, deviceID)
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("device disconnected", "device_id", deviceID, "devices", count)

	for _, l := range r.snapshotListeners() {
		l.DeviceDisconnected(deviceID)
	}
	return true
}

// Get returns the live channel for deviceID, or false when the device is
// not connected. Callers must not retain the returned handle across
// suspension points; look it up fresh per send.
func (r *Registry) Get(deviceID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[deviceID]
	if !ok {
		return nil, false
	}
	return s.channel, true
}

// Touch updates the last-seen timestamp for deviceID. Called on every
// inbound message from the device.
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	if s, ok := r.sessions[deviceID]; ok {
		s.lastSeenAt = time.Now().UTC()
	}
	r.mu.Unlock()
}

// Count returns the number of live devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of all connected devices.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, Session{
			DeviceID:    id,
			ConnectedAt: s.connectedAt,
			LastSeenAt:  s.lastSeenAt,
			UserAgent:   s.userAgent,
		})
	}
	return sessions
}

// snapshotListeners copies the listener list so notifications run without
// holding any registry lock.
func (r *Registry) snapshotListeners() []ConnectionListener {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()

	out := make([]ConnectionListener, len(r.listeners))
	copy(out, r.listeners)
	return out
}
