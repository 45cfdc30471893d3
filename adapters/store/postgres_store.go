package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/sigauth/core"
)

// DB is the subset of pgxpool.Pool used by PostgresStore
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS auth_challenges (
  challenge_id TEXT PRIMARY KEY,
  wallet TEXT NOT NULL,
  purpose TEXT NOT NULL,
  nonce TEXT NOT NULL,
  chain_id BIGINT NOT NULL DEFAULT 0,
  domain TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  consumed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS auth_challenges_expires_at_idx ON auth_challenges (expires_at);
CREATE TABLE IF NOT EXISTS wallet_roles (
  wallet TEXT PRIMARY KEY,
  role TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_sessions (
  wallet TEXT PRIMARY KEY,
  role TEXT NOT NULL,
  refresh_token_hash TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists challenges, roles and sessions in Postgres
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and initializes the schema
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	s := &PostgresStore{db: pool, pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the tables if they do not exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// Close releases the pool when the store owns one
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Create inserts a new challenge row
func (s *PostgresStore) Create(ctx context.Context, c *core.Challenge) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_challenges (challenge_id, wallet, purpose, nonce, chain_id, domain, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Wallet, string(c.Purpose), c.Nonce, c.ChainID, c.Domain, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return core.Unavailable("create challenge", err)
	}
	return nil
}

// Consume marks the challenge consumed in a single conditional update
func (s *PostgresStore) Consume(ctx context.Context, wallet, challengeID string, purpose core.Purpose, now time.Time) (*core.Challenge, error) {
	var (
		c       core.Challenge
		purp    string
		chainID int64
	)
	err := s.db.QueryRow(ctx,
		`UPDATE auth_challenges SET consumed_at = $4
WHERE challenge_id = $1 AND wallet = $2 AND purpose = $3 AND consumed_at IS NULL AND expires_at >= $4
RETURNING challenge_id, wallet, purpose, nonce, chain_id, domain, created_at, expires_at`,
		challengeID, wallet, string(purpose), now,
	).Scan(&c.ID, &c.Wallet, &purp, &c.Nonce, &chainID, &c.Domain, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, core.Unavailable("consume challenge", err)
	}
	c.Purpose = core.Purpose(purp)
	c.ChainID = chainID
	consumedAt := now
	c.ConsumedAt = &consumedAt
	return &c, nil
}

// DeleteExpired removes challenges that expired before the given time
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM auth_challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, core.Unavailable("delete expired challenges", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns the wallet's role
func (s *PostgresStore) Get(ctx context.Context, wallet string) (core.Role, error) {
	var val string
	err := s.db.QueryRow(ctx, `SELECT role FROM wallet_roles WHERE wallet = $1`, wallet).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrRoleNotFound
	}
	if err != nil {
		return "", core.Unavailable("get role", err)
	}
	role, err := core.ParseRole(val)
	if err != nil {
		return "", core.Unavailable("decode role", err)
	}
	return role, nil
}

// PutIfAbsent inserts the role unless one exists and returns the stored role
func (s *PostgresStore) PutIfAbsent(ctx context.Context, wallet string, role core.Role, now time.Time) (core.Role, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO wallet_roles (wallet, role, created_at) VALUES ($1, $2, $3) ON CONFLICT (wallet) DO NOTHING`,
		wallet, string(role), now,
	)
	if err != nil {
		return "", core.Unavailable("put role", err)
	}
	return s.Get(ctx, wallet)
}

// Record upserts the wallet's session row
func (s *PostgresStore) Record(ctx context.Context, sess *core.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_sessions (wallet, role, refresh_token_hash, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (wallet) DO UPDATE SET role = EXCLUDED.role, refresh_token_hash = EXCLUDED.refresh_token_hash,
  expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at`,
		sess.Wallet, string(sess.Role), sess.RefreshTokenHash, sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return core.Unavailable("record session", err)
	}
	return nil
}

// FindActive reports whether hash is the wallet's current unexpired fingerprint
func (s *PostgresStore) FindActive(ctx context.Context, wallet, refreshTokenHash string, now time.Time) (bool, error) {
	var current string
	err := s.db.QueryRow(ctx,
		`SELECT refresh_token_hash FROM auth_sessions WHERE wallet = $1 AND expires_at > $2`,
		wallet, now,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.Unavailable("find session", err)
	}
	return hashEqual(current, refreshTokenHash), nil
}

// Rotate swaps the fingerprint only if oldHash is still current
func (s *PostgresStore) Rotate(ctx context.Context, wallet, oldHash string, next *core.Session) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE auth_sessions SET role = $3, refresh_token_hash = $4, expires_at = $5, updated_at = $6
WHERE wallet = $1 AND refresh_token_hash = $2 AND expires_at > $6`,
		wallet, oldHash, string(next.Role), next.RefreshTokenHash, next.ExpiresAt, next.UpdatedAt,
	)
	if err != nil {
		return false, core.Unavailable("rotate session", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Revoke deletes the wallet's session row
func (s *PostgresStore) Revoke(ctx context.Context, wallet string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM auth_sessions WHERE wallet = $1`, wallet); err != nil {
		return core.Unavailable("revoke session", err)
	}
	return nil
}
