package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/saffronlabs/saffron/pkg/account"
	"github.com/saffronlabs/saffron/pkg/claudeweb"
)

// cleanupTimeout bounds the best-effort conversation delete when a
// session is evicted.
const cleanupTimeout = 10 * time.Second

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Pool        *account.Pool
	WebBaseURL  string
	IdleTimeout time.Duration

	// NewConversation overrides upstream client construction, used by
	// tests. When nil a claudeweb client is built from the account.
	NewConversation func(acct *account.Account) Conversation
}

// Manager owns the live sessions. It creates them on demand, binding an
// account from the pool, and sweeps idle ones in the background.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	pool        *account.Pool
	idleTimeout time.Duration
	newConv     func(acct *account.Account) Conversation

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	newConv := opts.NewConversation
	if newConv == nil {
		webBaseURL := opts.WebBaseURL
		newConv = func(acct *account.Account) Conversation {
			return claudeweb.NewClient(webBaseURL, acct.CookieValue, acct.OrganizationUUID)
		}
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		pool:        opts.Pool,
		idleTimeout: opts.IdleTimeout,
		newConv:     newConv,
	}
}

// GetOrCreate returns the live session for the ID, creating one bound to
// a pool account when none exists. The filter only applies to new
// bindings.
func (m *Manager) GetOrCreate(sessionID string, f account.Filter) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		s.Touch()
		return s, nil
	}
	m.mu.Unlock()

	// Account selection takes the pool lock; keep it out of ours.
	acct, err := m.pool.AccountForSession(sessionID, f)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}

	s := New(sessionID, acct.OrganizationUUID, m.newConv(acct))
	m.sessions[sessionID] = s

	slog.Info("Created session", "session_id", sessionID, "account", acct.ShortID())
	return s, nil
}

// Get returns a live session without creating one.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Release evicts a session, dropping its account binding and deleting
// the upstream conversation.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.pool.ReleaseSession(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	s.Close(ctx)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start launches the idle sweeper.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.sweep(ctx)
}

// Stop halts the sweeper and evicts every session.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Release(id)
	}
}

func (m *Manager) sweep(ctx context.Context) {
	defer close(m.done)

	interval := m.idleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		slog.Info("Evicting idle session", "session_id", id)
		m.Release(id)
	}
}
