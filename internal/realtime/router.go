// Package realtime carries inbound event envelopes from the transport
// layer to registered handlers and pushes outbound envelopes to
// connected WebSocket sessions.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/observability"
)

// HandlerFunc receives a decoded event. Handlers must be idempotent on
// the event's request/offer id: the transport may replay messages.
type HandlerFunc func(Event)

// Router dispatches inbound envelopes by type and owns per-request
// expiry timers. Dispatch is synchronous; serialization comes from the
// transport's single reader goroutine, so no two handler invocations
// for the same connection race.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[EventType][]HandlerFunc

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[EventType][]HandlerFunc),
		timers:   make(map[string]*time.Timer),
	}
}

// Handle registers fn for the given event type. Multiple handlers per
// type are invoked in registration order.
func (r *Router) Handle(t EventType, fn HandlerFunc) {
	r.mu.Lock()
	r.handlers[t] = append(r.handlers[t], fn)
	r.mu.Unlock()
}

// Dispatch parses one raw envelope and routes it. Unknown event types
// and malformed payloads are logged and dropped, never fatal.
func (r *Router) Dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn("dropping malformed envelope", "error", err)
		return
	}
	r.DispatchEnvelope(env)
}

// DispatchEnvelope routes an already-parsed envelope.
func (r *Router) DispatchEnvelope(env Envelope) {
	ev, err := decodeEvent(env)
	if err != nil {
		observability.EventsUnknownTotal.Inc()
		r.logger.Warn("dropping event", "type", string(env.Type), "error", err)
		return
	}
	r.mu.RLock()
	fns := r.handlers[env.Type]
	r.mu.RUnlock()
	observability.EventsDispatchedTotal.WithLabelValues(string(env.Type)).Inc()
	for _, fn := range fns {
		fn(ev)
	}
}

// SetExpiry arms (or re-arms) an expiry timer keyed by request id. When
// the timer fires, fn runs once and the key is released.
func (r *Router) SetExpiry(requestID string, ttl time.Duration, fn func()) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if t, ok := r.timers[requestID]; ok {
		t.Stop()
	}
	r.timers[requestID] = time.AfterFunc(ttl, func() {
		r.timerMu.Lock()
		delete(r.timers, requestID)
		r.timerMu.Unlock()
		fn()
	})
}

// CancelExpiry stops a pending timer. Safe to call for unknown ids.
func (r *Router) CancelExpiry(requestID string) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if t, ok := r.timers[requestID]; ok {
		t.Stop()
		delete(r.timers, requestID)
	}
}

// PendingExpiries reports how many expiry timers are armed.
func (r *Router) PendingExpiries() int {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	return len(r.timers)
}
