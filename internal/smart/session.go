package smart

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSessionNotFound is returned when a session handle was never registered
// or has already been removed. A lookup after removal is a lifecycle bug in
// the caller, not a condition to default around.
var ErrSessionNotFound = errors.New("launch session not found")

// Session pairs one application's static configuration with the runtime
// context of one launch.
type Session struct {
	App     *Application
	Context *LaunchContext
}

// SessionStore holds every live launch session, keyed by the opaque numeric
// handle the embedding shell assigns to a browser window/frame. One store is
// shared process-wide across every concurrently open window.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// Register binds a session to handle. Registering an already-live handle is
// an error: the shell never reuses handles while a session is live.
func (s *SessionStore) Register(handle int64, app *Application, lc *LaunchContext) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[handle]; exists {
		return nil, fmt.Errorf("session handle %d already registered", handle)
	}
	session := &Session{App: app, Context: lc}
	s.sessions[handle] = session
	return session, nil
}

// Get resolves a handle to its live session.
func (s *SessionStore) Get(handle int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, ErrSessionNotFound)
	}
	return session, nil
}

// Remove drops the session for handle. Removing an absent handle is a no-op
// (the window may close before its session finished registering).
func (s *SessionStore) Remove(handle int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, handle)
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
