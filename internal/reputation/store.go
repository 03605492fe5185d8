package reputation

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for the pair.
	ErrNotFound = errors.New("reputation record not found")
	// ErrConflict is returned by Save when the stored version moved on
	// since the record was loaded. Callers retry with a fresh load.
	ErrConflict = errors.New("reputation record modified concurrently")
)

// Store persists reputation records. There is no delete: records are kept
// for audit after a tontine completes.
type Store interface {
	Get(ctx context.Context, userID, tontineID string) (*Record, error)
	// Save inserts a record with Version 0 or updates one whose stored
	// version equals rec.Version. On success rec.Version is incremented.
	Save(ctx context.Context, rec *Record) error
	// ListByTontine returns the tontine's records by totalScore descending.
	ListByTontine(ctx context.Context, tontineID string, limit int) ([]*Record, error)
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
	// ListAll pages through every record ordered by ID.
	ListAll(ctx context.Context, limit int, afterID string) ([]*Record, error)
}
