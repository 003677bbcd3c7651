package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimsTableDDL creates the table used by PGLeaseLock.
const ClaimsTableDDL = `CREATE TABLE IF NOT EXISTS distlock_claims (
	claim_key  TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`

// PGLeaseLock stores claims as rows with an expiry. An expired row is taken
// over in the same statement that would otherwise insert it.
type PGLeaseLock struct {
	db    *sql.DB
	key   string
	owner string
	ttl   time.Duration
}

// NewPGLeaseLock creates a lease lock on key.
func NewPGLeaseLock(db *sql.DB, key string, ttl time.Duration) *PGLeaseLock {
	return &PGLeaseLock{db: db, key: key, owner: ownerToken(), ttl: ttl}
}

// Acquire inserts the claim or takes over an expired one.
func (l *PGLeaseLock) Acquire(ctx context.Context) (bool, error) {
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO distlock_claims (claim_key, owner, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (claim_key) DO UPDATE
			SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
			WHERE distlock_claims.expires_at <= NOW()
		RETURNING owner`,
		l.key, l.owner, l.ttl.Seconds(),
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return owner == l.owner, nil
}

// Release deletes the claim if we still own it.
func (l *PGLeaseLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM distlock_claims WHERE claim_key = $1 AND owner = $2`,
		l.key, l.owner,
	)
	return err
}
