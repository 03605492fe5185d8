package reputation

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory record store for development and tests.
type MemoryStore struct {
	records map[string]*Record // by pair key
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Get(ctx context.Context, userID, tontineID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[PairKey(userID, tontineID)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	existing, ok := m.records[key]
	switch {
	case !ok && rec.Version != 0:
		return ErrConflict
	case ok && existing.Version != rec.Version:
		return ErrConflict
	}

	rec.Version++
	m.records[key] = rec.Clone()
	return nil
}

func (m *MemoryStore) ListByTontine(ctx context.Context, tontineID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	var result []*Record
	for _, rec := range m.records {
		if rec.TontineID == tontineID {
			result = append(result, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalScore != result[j].TotalScore {
			return result[i].TotalScore > result[j].TotalScore
		}
		return result[i].UserID < result[j].UserID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	var result []*Record
	for _, rec := range m.records {
		if rec.UserID == userID {
			result = append(result, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].TontineID < result[j].TontineID })
	return result, nil
}

func (m *MemoryStore) ListAll(ctx context.Context, limit int, afterID string) ([]*Record, error) {
	m.mu.RLock()
	var result []*Record
	for _, rec := range m.records {
		if rec.ID > afterID {
			result = append(result, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
