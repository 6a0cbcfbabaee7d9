// File: internal/server/session.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// session tracks the task state of one connected device.
type session struct {
	id string

	mu          sync.Mutex
	taskRunning bool
	taskCancel  context.CancelFunc
}

// beginTask marks the session busy and returns the task context. It fails
// when a task is already in flight: one session runs one task at a time.
func (s *session) beginTask() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskRunning {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.taskRunning = true
	s.taskCancel = cancel
	return ctx, true
}

func (s *session) endTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskCancel != nil {
		s.taskCancel()
		s.taskCancel = nil
	}
	s.taskRunning = false
}

// cancelTask aborts the running task, if any.
func (s *session) cancelTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.taskRunning || s.taskCancel == nil {
		return false
	}
	s.taskCancel()
	return true
}

// sessionTable indexes sessions by id.
type sessionTable struct {
	mu sync.Mutex
	m  map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{m: make(map[string]*session)}
}

func (t *sessionTable) acquire(id string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.m[id]; ok {
		return s
	}
	s := &session{id: id}
	t.m[id] = s
	return s
}

func (t *sessionTable) ids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.m))
	for id := range t.m {
		ids = append(ids, id)
	}
	return ids
}

func (t *sessionTable) cancelAll() {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.m))
	for _, s := range t.m {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.cancelTask()
	}
}

// handshakeTimeout bounds how long a fresh connection may take to identify
// itself with a session_connect frame.
const handshakeTimeout = 10 * time.Second

// handleSession upgrades the connection, performs the session handshake and
// then routes every inbound envelope: correlated frames to the pending table,
// everything else to the control handlers.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed.", zap.Error(err))
		return
	}

	sessionID, err := s.handshake(ws)
	if err != nil {
		s.logger.Warn("Session handshake failed.", zap.Error(err))
		ws.Close()
		return
	}

	conn := s.manager.Register(sessionID, ws)
	sess := s.sessions.acquire(sessionID)
	log := s.logger.With(zap.String("session_id", sessionID))

	defer func() {
		s.manager.Unregister(conn)
		// A reconnect displaces this connection and keeps the task; a plain
		// disconnect leaves no channel to act on, so the task is cancelled.
		if !s.manager.Connected(sessionID) && sess.cancelTask() {
			log.Info("Cancelled running task on disconnect.")
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Connection closed unexpectedly.", zap.Error(err))
			}
			return
		}

		var env schemas.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			log.Warn("Dropping malformed envelope.", zap.Error(err))
			continue
		}
		env.SessionID = sessionID

		if env.IsCorrelated() {
			s.manager.Resolve(&env)
			continue
		}
		s.handleControl(sess, &env, log)
	}
}

// handshake reads the mandatory session_connect frame.
func (s *Server) handshake(ws *websocket.Conn) (string, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}

	var env schemas.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", err
	}
	if env.Type != schemas.TypeSessionConnect {
		return "", errExpectedSessionConnect(env.Type)
	}
	if env.SessionID == "" {
		return "", errMissingSessionID
	}
	return env.SessionID, nil
}

// classifyContent is the payload of a classify_input envelope: free text the
// user typed, to be treated as a task goal when the session is idle.
type classifyContent struct {
	Text string `json:"text"`
}

// handleControl routes uncorrelated envelopes by type.
func (s *Server) handleControl(sess *session, env *schemas.Envelope, log *zap.Logger) {
	switch env.Type {
	case schemas.TypePing:
		pong := schemas.NewEnvelope(schemas.TypePong, sess.id, "", nil)
		if err := s.manager.Send(sess.id, pong); err != nil {
			log.Debug("Failed to answer ping.", zap.Error(err))
		}

	case schemas.TypeStartTask:
		var content schemas.StartTaskContent
		if err := json.Unmarshal(env.Content, &content); err != nil || content.Goal == "" {
			s.manager.Notify(sess.id, schemas.TypeError, "start_task requires a goal")
			return
		}
		s.startTask(sess, content.Goal, log)

	case schemas.TypeCancelTask:
		if sess.cancelTask() {
			log.Info("Task cancelled by client.")
			s.manager.Notify(sess.id, schemas.TypeStatus, "task cancelled")
		} else {
			s.manager.Notify(sess.id, schemas.TypeWarning, "no task to cancel")
		}

	case schemas.TypeClassifyInput:
		var content classifyContent
		if err := json.Unmarshal(env.Content, &content); err != nil || content.Text == "" {
			s.manager.Notify(sess.id, schemas.TypeError, "classify_input requires text")
			return
		}
		// With no task in flight, free text is a new goal. Clarification
		// answers have nothing to resume: the asking task already ended.
		s.startTask(sess, content.Text, log)

	case schemas.TypeClientError:
		var content schemas.Notification
		if err := json.Unmarshal(env.Content, &content); err == nil {
			log.Error("Client reported an error.", zap.String("message", content.Message))
		}

	default:
		log.Warn("Unhandled control envelope.", zap.String("type", env.Type))
	}
}

// startTask launches the task loop in its own goroutine and pushes the
// terminal result back over the session when it finishes.
func (s *Server) startTask(sess *session, goal string, log *zap.Logger) {
	ctx, ok := sess.beginTask()
	if !ok {
		s.manager.Notify(sess.id, schemas.TypeWarning, "a task is already running on this session")
		return
	}

	log.Info("Starting task.", zap.String("goal", goal))
	go func() {
		defer sess.endTask()
		defer func() {
			// RunTask recovers its own step loop; this guards the runner
			// boundary itself so the client still learns the task died.
			if rec := recover(); rec != nil {
				log.Error("Task runner panicked.", zap.Any("panic", rec))
				s.deliverResult(sess.id, &schemas.TaskResult{
					Status: schemas.StatusFailedException,
					Error:  fmt.Sprintf("unhandled panic: %v", rec),
				}, log)
			}
		}()

		s.deliverResult(sess.id, s.orch.RunTask(ctx, sess.id, goal), log)
	}()
}

// deliverResult pushes the terminal result to the client as a task_result
// envelope.
func (s *Server) deliverResult(sessionID string, result *schemas.TaskResult, log *zap.Logger) {
	env := schemas.NewEnvelope(schemas.TypeTaskResult, sessionID, "", result)
	if err := s.manager.Send(sessionID, env); err != nil {
		log.Warn("Failed to deliver task result.",
			zap.String("task_id", result.TaskID), zap.Error(err))
	}
}
