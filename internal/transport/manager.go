// File: internal/transport/manager.go
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Conn wraps one client WebSocket. All writes funnel through the send channel
// into a single writer goroutine, since gorilla connections allow only one
// concurrent writer.
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// SessionID returns the session this connection serves.
func (c *Conn) SessionID() string { return c.sessionID }

// enqueue hands a frame to the writer goroutine.
func (c *Conn) enqueue(msg []byte) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// close makes all future enqueues fail and stops the writer. The writer's
// error path and Unregister can race here, so the channel close must be
// guarded by the Once rather than a check-then-close.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump serializes all outbound traffic and keeps the connection alive
// with periodic pings. It exits when the connection closes.
func (c *Conn) writePump(writeWait, pongWait time.Duration) {
	pingPeriod := (pongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("Write failed, closing connection.", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			// Attempt a clean close frame; the peer may already be gone.
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Manager owns the live connections and the pending-request table. It is the
// single mediator between the step loop and the wire: fire-and-forget sends,
// correlated request/response, and resolution of inbound replies.
type Manager struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	pending *pendingTable

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewManager creates a Manager with no connections.
func NewManager(cfg config.ServerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger.Named("transport"),
		pending: newPendingTable(),
		conns:   make(map[string]*Conn),
	}
}

// Register attaches ws as the connection for sessionID and starts its writer.
// A previous connection for the same session is displaced and closed, and its
// in-flight requests fail immediately.
func (m *Manager) Register(sessionID string, ws *websocket.Conn) *Conn {
	ws.SetReadLimit(m.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return nil
	})

	conn := &Conn{
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
		logger:    m.logger.With(zap.String("session_id", sessionID)),
	}

	m.mu.Lock()
	old := m.conns[sessionID]
	m.conns[sessionID] = conn
	m.mu.Unlock()

	if old != nil {
		m.logger.Warn("Displacing existing connection for session.",
			zap.String("session_id", sessionID))
		old.close()
		m.pending.evictSession(sessionID, ErrSessionClosed)
	}

	go conn.writePump(m.cfg.WriteWait, m.cfg.PongWait)
	m.logger.Info("Session connected.", zap.String("session_id", sessionID))
	return conn
}

// Unregister detaches conn if it is still the current connection for its
// session, closes it, and fails every request that was waiting on it. Waiters
// are woken immediately rather than left to run out their timeouts.
func (m *Manager) Unregister(conn *Conn) {
	m.mu.Lock()
	current := m.conns[conn.sessionID] == conn
	if current {
		delete(m.conns, conn.sessionID)
	}
	m.mu.Unlock()

	conn.close()
	if !current {
		return
	}
	if n := m.pending.evictSession(conn.sessionID, ErrSessionClosed); n > 0 {
		m.logger.Info("Failed in-flight requests on disconnect.",
			zap.String("session_id", conn.sessionID), zap.Int("count", n))
	}
	m.logger.Info("Session disconnected.", zap.String("session_id", conn.sessionID))
}

// Connected reports whether sessionID has a live connection.
func (m *Manager) Connected(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[sessionID]
	return ok
}

func (m *Manager) conn(sessionID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[sessionID]
	return c, ok
}

// Send delivers env to the session's connection without waiting for a reply.
func (m *Manager) Send(sessionID string, env *schemas.Envelope) error {
	c, ok := m.conn(sessionID)
	if !ok {
		return ErrNoConnection
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// Notify sends a fire-and-forget notification envelope. Delivery failures are
// logged and swallowed; notifications never abort the step loop.
func (m *Manager) Notify(sessionID, kind, message string) {
	env := schemas.NewEnvelope(kind, sessionID, "", schemas.Notification{Message: message})
	if err := m.Send(sessionID, env); err != nil {
		m.logger.Debug("Dropping notification.",
			zap.String("session_id", sessionID),
			zap.String("type", kind),
			zap.Error(err))
	}
}

// Request sends a correlated request and blocks until the matching response
// arrives, timeout elapses, ctx is cancelled, or the session disconnects. The
// correlation id is assigned here if env does not carry one. On every exit
// path the pending entry is gone, so a late reply resolves to a no-op.
func (m *Manager) Request(ctx context.Context, sessionID string, env *schemas.Envelope, timeout time.Duration) (*schemas.Envelope, error) {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}

	// Pin the result kind this request pairs with; replies of any other type
	// are discarded by Resolve instead of being handed to the caller.
	expectKind, _ := schemas.ResponseKindFor(env.Type)
	ch := m.pending.register(sessionID, env.CorrelationID, expectKind)

	if err := m.Send(sessionID, env); err != nil {
		m.pending.evict(env.CorrelationID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Envelope, nil
	case <-timer.C:
		if !m.pending.evict(env.CorrelationID) {
			// Lost the race: the response landed between the timer firing
			// and the eviction. Take it.
			out := <-ch
			if out.Err != nil {
				return nil, out.Err
			}
			return out.Envelope, nil
		}
		m.logger.Warn("Client response timed out.",
			zap.String("session_id", sessionID),
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
			zap.Duration("timeout", timeout))
		return nil, ErrTimeout
	case <-ctx.Done():
		if !m.pending.evict(env.CorrelationID) {
			out := <-ch
			if out.Err == nil {
				return out.Envelope, nil
			}
		}
		return nil, ctx.Err()
	}
}

// Resolve routes an inbound correlated envelope to its waiter. Unknown or
// already-resolved correlation ids are logged and dropped; late replies after
// a timeout must not crash the session. A reply of the wrong type for its
// correlation id is dropped too, leaving the request in flight.
func (m *Manager) Resolve(env *schemas.Envelope) {
	switch m.pending.resolve(env.CorrelationID, env) {
	case resolved:
	case kindMismatch:
		m.logger.Warn("Response type does not match the pending request; discarding.",
			zap.String("session_id", env.SessionID),
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID))
	default:
		m.logger.Warn("Response for unknown or expired request; discarding.",
			zap.String("session_id", env.SessionID),
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID))
	}
}

// CancelSession tears down the session's connection and fails its in-flight
// requests. Used by cancel_task and server shutdown.
func (m *Manager) CancelSession(sessionID string) {
	if c, ok := m.conn(sessionID); ok {
		m.Unregister(c)
	} else {
		m.pending.evictSession(sessionID, ErrSessionClosed)
	}
}

// PendingCount reports in-flight correlated requests across all sessions.
func (m *Manager) PendingCount() int {
	return m.pending.len()
}
