package tontine

import (
	"context"
	"sync"
)

// Compile-time check that MemoryDirectory implements Directory.
var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory is an in-memory directory for development and tests.
type MemoryDirectory struct {
	tontines map[string]*Tontine
	mu       sync.RWMutex
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{tontines: make(map[string]*Tontine)}
}

// Put stores or replaces a tontine.
func (m *MemoryDirectory) Put(t *Tontine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tontines[t.ID] = clone(t)
}

func (m *MemoryDirectory) Get(ctx context.Context, id string) (*Tontine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tontines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (m *MemoryDirectory) ExpectedContributions(ctx context.Context, tontineID, userID string) (int, error) {
	t, err := m.Get(ctx, tontineID)
	if err != nil {
		return 0, err
	}
	return t.ExpectedContributions(userID)
}

func clone(t *Tontine) *Tontine {
	cp := *t
	cp.Members = append([]Member(nil), t.Members...)
	return &cp
}
