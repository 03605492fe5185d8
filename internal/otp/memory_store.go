package otp

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps challenges in process. Expired entries are dropped by
// a background sweep; call Stop to end it.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewMemoryStore creates a store that sweeps expired challenges every
// interval.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		challenges: make(map[string]*Challenge),
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.Phone] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, phone string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[phone]
	if !ok || !s.now().Before(c.ExpiresAt) {
		return nil, ErrNoChallenge
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, phone)
	return nil
}

// Len returns the number of stored challenges, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// WithClock overrides the time source used for expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Stop ends the sweep goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for phone, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, phone)
		}
	}
}
