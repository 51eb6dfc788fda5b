package session

import (
	"sync"
	"time"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

// Session is the in-memory conversational state of one user.
type Session struct {
	UserID string

	mu         sync.Mutex
	history    []chat.HistoryEntry
	limit      int
	welcomed   bool
	lastActive time.Time
	inFlight   int
}

// History returns a copy of the in-memory exchange history, oldest first.
func (s *Session) History() []chat.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Welcomed reports whether a welcome was claimed or observed for this session.
func (s *Session) Welcomed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.welcomed
}

func (s *Session) appendHistory(entries ...chat.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entries...)
	if s.limit > 0 && len(s.history) > s.limit {
		trimmed := make([]chat.HistoryEntry, s.limit)
		copy(trimmed, s.history[len(s.history)-s.limit:])
		s.history = trimmed
	}
}

// claimWelcome sets welcomed and reports whether this call flipped it.
func (s *Session) claimWelcome() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.welcomed {
		return false
	}
	s.welcomed = true
	return true
}

func (s *Session) setWelcomed(v bool) {
	s.mu.Lock()
	s.welcomed = v
	s.mu.Unlock()
}

// Sessions owns every live Session, keyed by user id.
type Sessions struct {
	mu           sync.Mutex
	items        map[string]*Session
	historyLimit int
	now          func() time.Time
}

// NewSessions creates an empty registry. historyLimit caps each session's history; zero
// leaves it unbounded.
func NewSessions(historyLimit int) *Sessions {
	return &Sessions{
		items:        make(map[string]*Session),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Get returns the session of userID, creating it on first use.
func (s *Sessions) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(userID)
}

// Peek returns the session of userID without creating it.
func (s *Sessions) Peek(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[userID]
	return sess, ok
}

// Len reports how many sessions are held.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// acquire loads the session and marks it busy so the sweeper leaves it alone.
func (s *Sessions) acquire(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.loadLocked(userID)
	sess.inFlight++
	return sess
}

func (s *Sessions) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.inFlight--
	sess.lastActive = s.now()
}

// EvictIdle drops sessions with no work in flight that have been idle for at least ttl.
func (s *Sessions) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	evicted := 0
	for id, sess := range s.items {
		if sess.inFlight > 0 || sess.lastActive.After(cutoff) {
			continue
		}
		delete(s.items, id)
		evicted++
	}
	return evicted
}

func (s *Sessions) loadLocked(userID string) *Session {
	sess, ok := s.items[userID]
	if !ok {
		sess = &Session{UserID: userID, limit: s.historyLimit}
		s.items[userID] = sess
	}
	sess.lastActive = s.now()
	return sess
}
