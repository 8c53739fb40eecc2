// Package toolcall tracks client tool uses that have been surfaced to the
// API caller and are awaiting results. When a follow-up request carries a
// matching tool_result, the registry maps it back to the parked session.
package toolcall

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL bounds how long a pending call stays resumable.
const DefaultTTL = 15 * time.Minute

// PendingCall records one outstanding client tool use.
type PendingCall struct {
	ToolUseID string
	SessionID string
	MessageID string
	CreatedAt time.Time
}

// Registry is a TTL-bounded store of pending tool calls, safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]PendingCall
	now     func() time.Time
}

// NewRegistry creates a registry. A non-positive ttl falls back to
// DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		pending: make(map[string]PendingCall),
		now:     time.Now,
	}
}

// Register records a pending tool call. Once Register returns, Lookup on
// any goroutine observes the entry.
func (r *Registry) Register(toolUseID, sessionID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()
	r.pending[toolUseID] = PendingCall{
		ToolUseID: toolUseID,
		SessionID: sessionID,
		MessageID: messageID,
		CreatedAt: r.now(),
	}

	slog.Info("Registered pending tool call",
		"tool_use_id", toolUseID, "session_id", sessionID)
}

// Lookup returns the pending call for a tool_use_id, if one is still live.
func (r *Registry) Lookup(toolUseID string) (PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()
	call, ok := r.pending[toolUseID]
	return call, ok
}

// Consume removes and returns the pending call for a tool_use_id.
func (r *Registry) Consume(toolUseID string) (PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()
	call, ok := r.pending[toolUseID]
	if ok {
		delete(r.pending, toolUseID)
	}
	return call, ok
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()
	return len(r.pending)
}

func (r *Registry) evictExpiredLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, call := range r.pending {
		if call.CreatedAt.Before(cutoff) {
			delete(r.pending, id)
			slog.Debug("Evicted expired tool call", "tool_use_id", id)
		}
	}
}
