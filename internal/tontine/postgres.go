package tontine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresDirectory implements Directory.
var _ Directory = (*PostgresDirectory)(nil)

// PostgresDirectory reads tontines and memberships from PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgreSQL-backed directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Migrate creates the tontine tables if they don't exist.
func (p *PostgresDirectory) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tontines (
			id             VARCHAR(64) PRIMARY KEY,
			name           VARCHAR(255) NOT NULL,
			status         VARCHAR(20) NOT NULL DEFAULT 'draft',
			rounds_elapsed INTEGER NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS tontine_members (
			tontine_id   VARCHAR(64) NOT NULL REFERENCES tontines(id),
			user_id      VARCHAR(64) NOT NULL,
			joined_round INTEGER NOT NULL DEFAULT 0,
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tontine_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tontine_members_user ON tontine_members(user_id);
	`)
	return err
}

// Upsert writes a tontine and its member list. It exists for seeding and
// tests; lifecycle transitions belong to the tontine workflow service.
func (p *PostgresDirectory) Upsert(ctx context.Context, t *Tontine) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tontines (id, name, status, rounds_elapsed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			rounds_elapsed = EXCLUDED.rounds_elapsed
	`, t.ID, t.Name, string(t.Status), t.RoundsElapsed, orNow(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert tontine: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tontine_members WHERE tontine_id = $1`, t.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, m := range t.Members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tontine_members (tontine_id, user_id, joined_round, joined_at)
			VALUES ($1, $2, $3, $4)
		`, t.ID, m.UserID, m.JoinedRound, orNow(m.JoinedAt))
		if err != nil {
			return fmt.Errorf("insert member %s: %w", m.UserID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresDirectory) Get(ctx context.Context, id string) (*Tontine, error) {
	var t Tontine
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, status, rounds_elapsed, created_at
		FROM tontines WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &status, &t.RoundsElapsed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tontine: %w", err)
	}
	t.Status = Status(status)

	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, joined_round, joined_at
		FROM tontine_members WHERE tontine_id = $1
		ORDER BY joined_round, user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.JoinedRound, &m.JoinedAt); err != nil {
			return nil, err
		}
		t.Members = append(t.Members, m)
	}
	return &t, rows.Err()
}

func (p *PostgresDirectory) ExpectedContributions(ctx context.Context, tontineID, userID string) (int, error) {
	var rounds int
	var joined sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT t.rounds_elapsed, m.joined_round
		FROM tontines t
		LEFT JOIN tontine_members m ON m.tontine_id = t.id AND m.user_id = $2
		WHERE t.id = $1
	`, tontineID, userID).Scan(&rounds, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("expected contributions: %w", err)
	}
	if !joined.Valid {
		return 0, ErrNotMember
	}
	if n := rounds - int(joined.Int64); n > 0 {
		return n, nil
	}
	return 0, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
