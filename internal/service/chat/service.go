package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/user"
)

var (
	ErrUserRequired = errors.New("user id is required")
	ErrInvalidKind  = errors.New("invalid turn kind")
)

// MemoryStore keeps turns and users in process memory. It satisfies chat.TurnStore and
// user.Store and is used by tests and by STORE_DRIVER=memory.
type MemoryStore struct {
	mu      sync.RWMutex
	turns   map[string][]chat.Turn
	users   map[string]user.User
	lastAt  time.Time
	nowFunc func() time.Time
}

// NewMemoryStore bootstraps an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:   make(map[string][]chat.Turn),
		users:   make(map[string]user.User),
		nowFunc: time.Now,
	}
}

// Append stores a turn. createdAt is strictly increasing across the store so ordering by it
// matches insertion order.
func (s *MemoryStore) Append(_ context.Context, content string, kind chat.Kind, userID string) (chat.Turn, error) {
	if userID == "" {
		return chat.Turn{}, &chat.PersistenceError{Op: "append", Err: ErrUserRequired}
	}
	if !kind.Valid() {
		return chat.Turn{}, &chat.PersistenceError{Op: "append", Err: ErrInvalidKind}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	if !now.After(s.lastAt) {
		now = s.lastAt.Add(time.Nanosecond)
	}
	s.lastAt = now

	turn := chat.Turn{
		ID:        uuid.NewString(),
		Content:   content,
		Kind:      kind,
		UserID:    userID,
		CreatedAt: now,
	}
	s.turns[userID] = append(s.turns[userID], turn)
	return turn, nil
}

// ListByUser returns a copy of the stored turns for userID.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[userID]
	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// CreateUser registers a user. Phone numbers are unique; creating an existing phone
// returns the stored user.
func (s *MemoryStore) CreateUser(_ context.Context, name, phone string) (user.User, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return user.User{}, chat.ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[phone]; ok {
		return existing, nil
	}

	u := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		CreatedAt: s.nowFunc().UTC(),
	}
	s.users[phone] = u
	return u, nil
}

// FindByPhone looks a user up by phone number.
func (s *MemoryStore) FindByPhone(_ context.Context, phone string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.TrimSpace(phone)]
	if !ok {
		return user.User{}, chat.ErrUserNotFound
	}
	return u, nil
}

// Close is a no-op kept for parity with the durable store.
func (s *MemoryStore) Close() error { return nil }
