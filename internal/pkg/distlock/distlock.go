// Package distlock provides expiring claims shared between server instances.
// A claim that is never released lapses after its TTL, which makes the same
// primitive usable both as a mutex and as a time-boxed "seen" marker.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/workshop-mailer/internal/pkg/backoff"
)

const (
	waitBaseDelay = 5 * time.Millisecond
	waitMaxDelay  = 250 * time.Millisecond
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to take the claim. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the claim if we still own it.
	Release(ctx context.Context) error
}

// Factory builds a fresh lock instance for key.
type Factory func(key string, ttl time.Duration) DistLock

// NewFactory picks the best available backend: Redis when a client is
// given, else the Postgres claims table, else process-local memory.
func NewFactory(redisClient *redis.Client, db *sql.DB) Factory {
	switch {
	case redisClient != nil:
		return func(key string, ttl time.Duration) DistLock {
			return NewRedisLock(redisClient, key, ttl)
		}
	case db != nil:
		return func(key string, ttl time.Duration) DistLock {
			return NewPGLeaseLock(db, key, ttl)
		}
	default:
		return NewMemoryLocks().Factory()
	}
}

// Wait polls l until it is acquired, wait elapses or ctx is done. It
// returns false with a nil error when wait elapsed with the claim still
// held elsewhere. Backend errors are returned as-is.
func Wait(ctx context.Context, l DistLock, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for attempt := 1; ; attempt++ {
		ok, err := l.Acquire(ctx)
		if err != nil || ok {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		delay := backoff.Jittered(attempt, waitBaseDelay, waitMaxDelay)
		if delay > remaining {
			delay = remaining
		}
		if err := backoff.Sleep(ctx, delay); err != nil {
			return false, err
		}
	}
}

func ownerToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MemoryLocks is a process-local claim table.
type MemoryLocks struct {
	mu     sync.Mutex
	leases map[string]memLease
	now    func() time.Time
}

type memLease struct {
	owner   string
	expires time.Time
}

// NewMemoryLocks creates an empty claim table.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{leases: make(map[string]memLease), now: time.Now}
}

// WithClock replaces the time source, for expiry tests.
func (m *MemoryLocks) WithClock(now func() time.Time) *MemoryLocks {
	m.now = now
	return m
}

// Factory returns a Factory whose locks share this table.
func (m *MemoryLocks) Factory() Factory {
	return func(key string, ttl time.Duration) DistLock {
		return &memoryLock{table: m, key: key, ttl: ttl, owner: ownerToken()}
	}
}

type memoryLock struct {
	table *MemoryLocks
	key   string
	ttl   time.Duration
	owner string
}

func (l *memoryLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m := l.table
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[l.key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	m.leases[l.key] = memLease{owner: l.owner, expires: now.Add(l.ttl)}
	return true, nil
}

func (l *memoryLock) Release(context.Context) error {
	m := l.table
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[l.key]; ok && cur.owner == l.owner {
		delete(m.leases, l.key)
	}
	return nil
}
