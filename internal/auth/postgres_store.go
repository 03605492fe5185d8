package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
)

// Compile-time check that PostgresUserStore implements UserStore.
var _ UserStore = (*PostgresUserStore)(nil)

// PostgresUserStore persists users in PostgreSQL
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new PostgreSQL-backed user store
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// GetOrCreateByPhone upserts on the unique phone column so concurrent
// first logins resolve to one user.
func (p *PostgresUserStore) GetOrCreateByPhone(ctx context.Context, phone string) (*User, error) {
	u := &User{}
	var lastLogin sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, phone, created_at, last_login)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (phone) DO UPDATE SET last_login = EXCLUDED.last_login
		RETURNING id, phone, created_at, last_login
	`, idgen.WithPrefix("usr_"), phone, time.Now().UTC()).Scan(&u.ID, &u.Phone, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

// Get retrieves a user by ID
func (p *PostgresUserStore) Get(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var lastLogin sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, phone, created_at, last_login FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Phone, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

// Migrate creates the users table if it doesn't exist
func (p *PostgresUserStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         VARCHAR(64) PRIMARY KEY,
			phone      VARCHAR(16) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login TIMESTAMPTZ
		);
	`)
	return err
}
