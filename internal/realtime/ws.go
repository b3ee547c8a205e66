package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSSession is one connected user, with writes serialized so state
// pushes and broadcasts never interleave frames.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds active sessions keyed by user id.
type WSRegistry struct {
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *slog.Logger, now func() time.Time) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &WSRegistry{logger: logger, now: now, sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	r.sessions[userID] = &WSSession{conn: conn}
	r.mu.Unlock()
	r.logger.Info("ws session added", "user_id", userID)
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	r.logger.Info("ws session removed", "user_id", userID)
}

// Send wraps the event into an envelope and delivers it to one user.
func (r *WSRegistry) Send(userID string, ev Event) error {
	env, err := NewEnvelope(ev, r.now())
	if err != nil {
		return err
	}
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.SendJSON(env); err != nil {
		r.logger.Warn("ws send error", "user_id", userID, "error", err)
		r.Remove(userID)
		return err
	}
	return nil
}

// Broadcast delivers the event to every session except excludeUserID.
// Returns the number of sessions reached.
func (r *WSRegistry) Broadcast(ev Event, excludeUserID string) int {
	env, err := NewEnvelope(ev, r.now())
	if err != nil {
		r.logger.Error("broadcast encode failed", "error", err)
		return 0
	}
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		if id != excludeUserID {
			targets[id] = s
		}
	}
	r.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		if err := s.SendJSON(env); err != nil {
			r.logger.Warn("broadcast send error", "user_id", id, "error", err)
			r.Remove(id)
			continue
		}
		sent++
	}
	return sent
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
