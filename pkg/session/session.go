// Package session binds API sessions to Claude.ai conversations. A
// session owns one upstream conversation and remembers the conversation
// settings it last applied. Requests against a session are serialized
// through its Acquire claim; the claim spans the whole pipeline because
// the upstream conversation cannot service two requests at once.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/saffronlabs/saffron/pkg/claudeweb"
)

// Conversation is the slice of the web client a session drives. Kept as
// an interface so request-building tests can run without a live upstream.
type Conversation interface {
	CreateConversation(ctx context.Context) (string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	SetPaprikaMode(ctx context.Context, conversationID string, mode *string) error
	SetWebSearch(ctx context.Context, conversationID string, enabled bool) error
	UploadFile(ctx context.Context, data []byte, filename, contentType string) (string, error)
	SendMessage(ctx context.Context, conversationID string, req *claudeweb.CompletionRequest) (io.ReadCloser, error)
}

// Session is one API client's conversation on one account. All methods
// are safe for concurrent use, but the upstream conversation is not
// reentrant-safe: callers must hold the Acquire claim across the whole
// request pipeline, from building through draining the response stream.
type Session struct {
	ID          string
	AccountUUID string

	client Conversation

	// inflight is the exclusive-use claim on the upstream conversation.
	inflight chan struct{}

	mu             sync.Mutex
	conversationID string
	paprikaMode    *string
	webSearch      *bool
	lastActive     time.Time
}

// New creates a session bound to the given account and client.
func New(id, accountUUID string, client Conversation) *Session {
	return &Session{
		ID:          id,
		AccountUUID: accountUUID,
		client:      client,
		inflight:    make(chan struct{}, 1),
		lastActive:  time.Now(),
	}
}

// Acquire claims exclusive use of the session's conversation, blocking
// while another request holds it. Returns ctx's error if the caller
// gives up waiting.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.inflight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the claim taken by Acquire.
func (s *Session) Release() {
	<-s.inflight
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleSince reports the last activity instant.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// ConversationID returns the upstream conversation, empty until created.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// EnsureConversation creates the upstream conversation on first use and
// returns its ID afterwards.
func (s *Session) EnsureConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID != "" {
		return s.conversationID, nil
	}

	id, err := s.client.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	s.conversationID = id

	slog.Debug("Created conversation", "session_id", s.ID, "conversation_id", id)
	return id, nil
}

// SetPaprikaMode applies the rendering mode, skipping the upstream call
// when the conversation already has it.
func (s *Session) SetPaprikaMode(ctx context.Context, mode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID == "" {
		return nil
	}
	if equalMode(s.paprikaMode, mode) {
		return nil
	}
	if err := s.client.SetPaprikaMode(ctx, s.conversationID, mode); err != nil {
		return err
	}
	s.paprikaMode = mode
	return nil
}

// SetWebSearch toggles upstream web search, skipping no-op updates.
func (s *Session) SetWebSearch(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID == "" {
		return nil
	}
	if s.webSearch != nil && *s.webSearch == enabled {
		return nil
	}
	if err := s.client.SetWebSearch(ctx, s.conversationID, enabled); err != nil {
		return err
	}
	s.webSearch = &enabled
	return nil
}

// UploadFile pushes an image to the conversation's account and returns
// its file UUID.
func (s *Session) UploadFile(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	return s.client.UploadFile(ctx, data, filename, contentType)
}

// SendMessage posts the completion request and returns the raw SSE body.
func (s *Session) SendMessage(ctx context.Context, req *claudeweb.CompletionRequest) (io.ReadCloser, error) {
	s.mu.Lock()
	convID := s.conversationID
	s.lastActive = time.Now()
	s.mu.Unlock()

	return s.client.SendMessage(ctx, convID, req)
}

// Close deletes the upstream conversation, best effort.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	convID := s.conversationID
	s.conversationID = ""
	s.mu.Unlock()

	if convID == "" {
		return
	}
	if err := s.client.DeleteConversation(ctx, convID); err != nil {
		slog.Debug("Failed to delete conversation", "session_id", s.ID, "error", err)
	}
}

func equalMode(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
