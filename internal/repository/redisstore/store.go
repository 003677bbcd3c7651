// Package redisstore keeps users and workshops in Redis.
//
// Layout, under a configurable prefix:
//
//	<p>:user:<address>            hash  address, confirmed, key, name, profile, created_at
//	<p>:user:<address>:delivered  zset  email ids scored by first delivery
//	<p>:ws:<id>                   hash  id, title, secret, created_at
//	<p>:ws:<id>:members           zset  addresses scored by join time
//	<p>:ws:<id>:emails            list  JSON-encoded emails in arrival order
//	<p>:secret:<secret>           string workshop id
//
// Conditional writes use WATCH/MULTI on the entity hash with a bounded
// retry. Set and list writes never touch the watched hash, so they only
// conflict with the rare writes that do.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/pkg/backoff"
)

const (
	defaultMaxRetries = 5
	retryBaseDelay    = 5 * time.Millisecond
	retryMaxDelay     = 200 * time.Millisecond
)

type store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	now        func() time.Time
}

func newStore(client *redis.Client, prefix string, maxRetries int) store {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return store{
		client:     client,
		prefix:     prefix,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// watch runs fn under WATCH keys, retrying with jittered backoff when a
// watched key changed before EXEC.
func (s store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 1; ; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if attempt >= s.maxRetries {
			return domain.ErrWriteConflict
		}
		if err := backoff.Sleep(ctx, backoff.Jittered(attempt, retryBaseDelay, retryMaxDelay)); err != nil {
			return err
		}
	}
}

// score orders set members by insertion time.
func (s store) score() float64 {
	return float64(s.now().UnixMicro())
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var sentinel bool
	for _, kind := range []error{domain.ErrNotFound, domain.ErrConflict, domain.ErrPrecondition} {
		if errors.Is(err, kind) {
			sentinel = true
		}
	}
	if sentinel || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
