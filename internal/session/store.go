// Package session tracks per-user conversation state. Each user gets
// one Session holding their bounded turn history and the executor their
// requests run through. Requests from the same user are serialized;
// different users proceed concurrently.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avmeyer/attache/internal/agent"
)

// DefaultMaxTurns bounds how many past turns a session retains. Older
// turns are discarded outright; the prompt layer surfaces only the most
// recent few anyway, so there is nothing to summarise.
const DefaultMaxTurns = 50

const (
	RoleUser      = "User"
	RoleAssistant = "Assistant"
)

// Session is one user's conversation. Send serializes turns for the
// session: two concurrent requests from the same user run one after the
// other, each seeing the history the previous one left behind.
type Session struct {
	userID string

	mu         sync.Mutex
	exec       *agent.Executor
	turns      []agent.Turn
	maxTurns   int
	lastActive time.Time
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Send runs one user turn through the session's executor and records
// the exchange. It always returns non-empty text; failures inside the
// turn degrade to a message rather than an error.
func (s *Session) Send(ctx context.Context, input string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := s.exec.Run(ctx, input, s.turns)

	s.turns = append(s.turns,
		agent.Turn{Role: RoleUser, Content: input},
		agent.Turn{Role: RoleAssistant, Content: answer},
	)
	if len(s.turns) > s.maxTurns {
		s.turns = append(s.turns[:0], s.turns[len(s.turns)-s.maxTurns:]...)
	}
	s.lastActive = time.Now()

	return answer
}

// History returns a copy of the retained turns, oldest first.
func (s *Session) History() []agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Reset clears the conversation history but keeps the executor.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// SetExecutor swaps the session's executor, typically after the user's
// tool credentials change. History is preserved.
func (s *Session) SetExecutor(exec *agent.Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exec = exec
}

// LastActive reports when the session last completed a turn.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Store maps user IDs to live sessions.
type Store struct {
	logger   *slog.Logger
	maxTurns int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store. maxTurns <= 0 selects
// [DefaultMaxTurns].
func NewStore(logger *slog.Logger, maxTurns int) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		logger:   logger,
		maxTurns: maxTurns,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the user's session, creating it with the executor
// from build on first use. build is invoked only when no session exists
// yet; concurrent callers for the same user get the same session.
func (s *Store) GetOrCreate(userID string, build func() *agent.Executor) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	sess := &Session{
		userID:   userID,
		exec:     build(),
		maxTurns: s.maxTurns,
	}
	s.sessions[userID] = sess
	s.logger.Debug("session created", "user", userID)
	return sess
}

// Get returns the user's session, or nil if none exists.
func (s *Store) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Remove drops the user's session. In-flight turns on the removed
// session finish normally; the next request starts fresh.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len reports how many sessions are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
