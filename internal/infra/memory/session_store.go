package memory

import (
	"sync"

	"history-quiz-engine/internal/domain"
)

// SessionStore holds every active quiz session behind one coarse mutex.
// The engine is the sole writer at runtime; Snapshot hands out deep copies
// so serialization never observes a session mid-mutation.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*domain.QuizSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*domain.QuizSession)}
}

func (s *SessionStore) Get(userID int64) (*domain.QuizSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	return session, ok
}

// Put stores the session for a user, replacing any previous one.
func (s *SessionStore) Put(userID int64, session *domain.QuizSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = session
}

// Mutate runs fn on the user's session under the store lock. All live
// session writes go through here so Snapshot's clones never observe a
// session mid-mutation. Returns false when no session exists.
func (s *SessionStore) Mutate(userID int64, fn func(session *domain.QuizSession)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok {
		return false
	}
	fn(session)
	return true
}

func (s *SessionStore) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot returns deep copies of all sessions, keyed by user.
func (s *SessionStore) Snapshot() map[int64]*domain.QuizSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*domain.QuizSession, len(s.sessions))
	for userID, session := range s.sessions {
		out[userID] = session.Clone()
	}
	return out
}

// Restore loads a recovered session. Meant for startup, before the engine
// starts serving; it does not guard against a concurrent live session.
func (s *SessionStore) Restore(userID int64, session *domain.QuizSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = session
}
