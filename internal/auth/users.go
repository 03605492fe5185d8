package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
)

// User is an account identified by its phone number.
type User struct {
	ID        string     `json:"id"`
	Phone     string     `json:"phone"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// UserStore maps verified phone numbers to user IDs.
type UserStore interface {
	// GetOrCreateByPhone returns the phone's user, creating it on first
	// login, and records the login time.
	GetOrCreateByPhone(ctx context.Context, phone string) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
}

// Compile-time check that MemoryUserStore implements UserStore.
var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore is an in-memory implementation of UserStore
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byPhone map[string]string
}

// NewMemoryUserStore creates a new in-memory store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryUserStore) GetOrCreateByPhone(ctx context.Context, phone string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if id, ok := s.byPhone[phone]; ok {
		u := s.byID[id]
		u.LastLogin = &now
		cp := *u
		return &cp, nil
	}

	u := &User{ID: idgen.WithPrefix("usr_"), Phone: phone, CreatedAt: now, LastLogin: &now}
	s.byID[u.ID] = u
	s.byPhone[phone] = u.ID
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
