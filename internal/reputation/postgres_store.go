package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps the queryable fields in columns and the full record as
// JSONB, so new metrics need no schema change.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reputation_records table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reputation_records (
			id           UUID PRIMARY KEY,
			user_id      VARCHAR(64) NOT NULL,
			tontine_id   VARCHAR(64) NOT NULL,
			total_score  INTEGER NOT NULL DEFAULT 500,
			level        VARCHAR(16) NOT NULL DEFAULT 'gold',
			version      INTEGER NOT NULL DEFAULT 1,
			data         JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, tontine_id)
		);
		CREATE INDEX IF NOT EXISTS idx_reputation_tontine_score ON reputation_records(tontine_id, total_score DESC);
		CREATE INDEX IF NOT EXISTS idx_reputation_user ON reputation_records(user_id);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, userID, tontineID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT version, data FROM reputation_records
		WHERE user_id = $1 AND tontine_id = $2
	`, userID, tontineID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reputation record: %w", err)
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, rec *Record) error {
	next := rec.Version + 1

	// Version lives in its own column; the JSON copy is informational.
	snapshot := *rec
	snapshot.Version = next
	data, err := json.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("marshal reputation record: %w", err)
	}

	var result sql.Result
	if rec.Version == 0 {
		result, err = p.db.ExecContext(ctx, `
			INSERT INTO reputation_records (
				id, user_id, tontine_id, total_score, level, version, data, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, tontine_id) DO NOTHING
		`,
			rec.ID, rec.UserID, rec.TontineID, rec.TotalScore, string(rec.Level),
			next, data, orNow(rec.CreatedAt), orNow(rec.UpdatedAt),
		)
	} else {
		result, err = p.db.ExecContext(ctx, `
			UPDATE reputation_records SET
				total_score = $3,
				level       = $4,
				version     = $5,
				data        = $6,
				updated_at  = $7
			WHERE user_id = $1 AND tontine_id = $2 AND version = $8
		`,
			rec.UserID, rec.TontineID, rec.TotalScore, string(rec.Level),
			next, data, orNow(rec.UpdatedAt), rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save reputation record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	rec.Version = next
	return nil
}

func (p *PostgresStore) ListByTontine(ctx context.Context, tontineID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT version, data FROM reputation_records
		WHERE tontine_id = $1
		ORDER BY total_score DESC, user_id ASC
		LIMIT $2
	`, tontineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by tontine: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT version, data FROM reputation_records
		WHERE user_id = $1
		ORDER BY tontine_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list by user: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *PostgresStore) ListAll(ctx context.Context, limit int, afterID string) ([]*Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT version, data FROM reputation_records
		WHERE ($1 = '' OR id::text > $1)
		ORDER BY id::text ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var (
		version int
		data    []byte
	)
	if err := row.Scan(&version, &data); err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode reputation record: %w", err)
	}
	rec.Version = version
	if rec.ActiveBadges == nil {
		rec.ActiveBadges = []string{}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
