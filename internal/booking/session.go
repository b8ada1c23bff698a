package booking

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session binds a workflow to a client session id.
type Session struct {
	ID        string
	Workflow  *Workflow
	StartedAt time.Time
	lastUsed  atomic.Int64 // unix nanos
}

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// IsExpired checks if session has been idle longer than timeout.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	last := time.Unix(0, s.lastUsed.Load())
	if activity := s.Workflow.LastActivity(); activity.After(last) {
		last = activity
	}
	return now.Sub(last) > timeout
}

// SessionStore manages booking sessions.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	timeout  time.Duration
	factory  func() *Workflow
	now      func() time.Time
}

// NewSessionStore creates a new session store. factory builds the workflow of each new session.
func NewSessionStore(timeout time.Duration, factory func() *Workflow) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		factory:  factory,
		now:      time.Now,
	}
}

// Create starts a new session with a fresh workflow.
func (ss *SessionStore) Create() *Session {
	now := ss.now()
	session := &Session{
		ID:        uuid.NewString(),
		Workflow:  ss.factory(),
		StartedAt: now,
	}
	session.touch(now)

	ss.mu.Lock()
	ss.sessions[session.ID] = session
	ss.mu.Unlock()
	return session
}

// Get returns a live session and marks it used. Expired sessions are closed and dropped.
// Expiry is checked outside ss.mu because it waits on the workflow lock.
func (ss *SessionStore) Get(id string) (*Session, bool) {
	ss.mu.RLock()
	session, ok := ss.sessions[id]
	ss.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := ss.now()
	if session.IsExpired(now, ss.timeout) {
		ss.drop(id, session)
		return nil, false
	}
	session.touch(now)
	return session, true
}

// drop removes session if it is still registered under id, then closes it.
func (ss *SessionStore) drop(id string, session *Session) bool {
	ss.mu.Lock()
	removed := ss.sessions[id] == session
	if removed {
		delete(ss.sessions, id)
	}
	ss.mu.Unlock()

	if removed {
		session.Workflow.Close()
	}
	return removed
}

// Delete closes and removes a session. It reports whether the session existed.
func (ss *SessionStore) Delete(id string) bool {
	ss.mu.Lock()
	session, ok := ss.sessions[id]
	delete(ss.sessions, id)
	ss.mu.Unlock()

	if ok {
		session.Workflow.Close()
	}
	return ok
}

// Cleanup closes and removes expired sessions.
func (ss *SessionStore) Cleanup() int {
	ss.mu.RLock()
	snapshot := make(map[string]*Session, len(ss.sessions))
	for id, session := range ss.sessions {
		snapshot[id] = session
	}
	ss.mu.RUnlock()

	now := ss.now()
	removed := 0
	for id, session := range snapshot {
		if session.IsExpired(now, ss.timeout) && ss.drop(id, session) {
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// CloseAll closes every workflow, used on shutdown.
func (ss *SessionStore) CloseAll() {
	ss.mu.Lock()
	sessions := ss.sessions
	ss.sessions = make(map[string]*Session)
	ss.mu.Unlock()

	for _, session := range sessions {
		session.Workflow.Close()
	}
}
