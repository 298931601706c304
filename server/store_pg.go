package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, identity_type, cpr, mitid_uuid, name, email, phone, role,
	company_cvr, last_login_at, last_idp, created_at, updated_at`

// PGUserStore persists users in Postgres through a pgx pool. Schema lives in
// migrations/001_portal_user.sql.
type PGUserStore struct {
	pool *pgxpool.Pool
}

// NewPGUserStore opens a pool against the DSN and pings it once.
func NewPGUserStore(ctx context.Context, dsn string) (*PGUserStore, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGUserStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PGUserStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// FindByIdentity returns the oldest user matching either identity key.
// Ordering by created_at keeps the "first match wins" rule deterministic.
func (s *PGUserStore) FindByIdentity(ctx context.Context, mitidUUID, cpr string) (User, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM portal_user
		WHERE mitid_uuid = $1 OR cpr = $2
		ORDER BY created_at ASC
		LIMIT 1`, mitidUUID, cpr)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("query user by identity: %w", err)
	}
	return u, true, nil
}

// Create inserts a new user record.
func (s *PGUserStore) Create(ctx context.Context, u User) (User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO portal_user (
			id, identity_type, cpr, mitid_uuid, name, email, phone, role,
			company_cvr, last_login_at, last_idp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+userColumns,
		uuid.New(), u.IdentityType, u.CPR, u.MitIDUUID, u.Name, u.Email, u.Phone, u.Role,
		nullable(u.CompanyCVR), nullableTime(u.LastLoginAt), nullable(u.LastIDP))

	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// Update refreshes the mutable profile columns. Role is deliberately absent
// from the SET list.
func (s *PGUserStore) Update(ctx context.Context, u User) (User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE portal_user
		SET identity_type = $2,
			name = $3,
			email = $4,
			phone = $5,
			company_cvr = $6,
			last_login_at = $7,
			last_idp = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.IdentityType, u.Name, u.Email, u.Phone,
		nullable(u.CompanyCVR), nullableTime(u.LastLoginAt), nullable(u.LastIDP))

	updated, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u           User
		companyCVR  *string
		lastLoginAt *time.Time
		lastIDP     *string
	)
	err := row.Scan(&u.ID, &u.IdentityType, &u.CPR, &u.MitIDUUID, &u.Name, &u.Email, &u.Phone,
		&u.Role, &companyCVR, &lastLoginAt, &lastIDP, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if companyCVR != nil {
		u.CompanyCVR = *companyCVR
	}
	if lastLoginAt != nil {
		u.LastLoginAt = *lastLoginAt
	}
	if lastIDP != nil {
		u.LastIDP = *lastIDP
	}
	return u, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
