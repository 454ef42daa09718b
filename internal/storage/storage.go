package storage

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/session"
	"github.com/oklog/ulid/v2"
)

// Entry is one live analysis session held by the server
type Entry struct {
	ID        string
	Machine   *session.Machine
	CreatedAt time.Time

	lastActive atomic.Int64
}

// Touch records activity on the session, pushing back its expiry.
func (e *Entry) Touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

// LastActive is the time of the most recent Touch, or creation.
func (e *Entry) LastActive() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// SessionStore keeps sessions in memory only; nothing survives a restart.
type SessionStore struct {
	sessions map[string]*Entry
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Entry),
	}
}

// Create stores machine under a fresh ULID and returns the entry.
func (s *SessionStore) Create(machine *session.Machine) *Entry {
	entry := &Entry{
		ID:        ulid.Make().String(),
		Machine:   machine,
		CreatedAt: time.Now(),
	}
	entry.lastActive.Store(entry.CreatedAt.UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[entry.ID] = entry
	return entry
}

func (s *SessionStore) Get(sessionID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.sessions[sessionID]
	return entry, exists
}

// GetAll returns entries ordered by creation time
func (s *SessionStore) GetAll() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, len(s.sessions))
	for _, v := range s.sessions {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return exists
}

// Expire removes sessions with no activity since cutoff and returns how many were dropped.
// Busy sessions are kept.
func (s *SessionStore) Expire(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.sessions {
		if entry.LastActive().Before(cutoff) && !entry.Machine.Snapshot().Lifecycle.Busy() {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
