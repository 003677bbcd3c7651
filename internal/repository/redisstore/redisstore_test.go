package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/repository/repotest"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

var (
	_ users.Repository     = (*UserRepo)(nil)
	_ workshops.Repository = (*WorkshopRepo)(nil)
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestUserRepo(t *testing.T) {
	repotest.RunUserSuite(t, func(t *testing.T) users.Repository {
		_, client := newClient(t)
		// concurrent suites contend on one key; allow enough rounds
		return NewUserRepo(client, "test", repotest.Concurrency+1)
	})
}

func TestWorkshopRepo(t *testing.T) {
	repotest.RunWorkshopSuite(t, func(t *testing.T) workshops.Repository {
		_, client := newClient(t)
		return NewWorkshopRepo(client, "test", 0)
	})
}

func TestKeyLayout(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	u := NewUserRepo(client, "wm", 0)
	w := NewWorkshopRepo(client, "wm", 0)

	require.NoError(t, u.CreateUnconfirmed(ctx, "ada@example.org", domain.UserAttributes{Name: "Ada"}, "k"))
	require.NoError(t, u.RecordDelivery(ctx, "ada@example.org", []string{"e1"}))
	require.NoError(t, w.Create(ctx, repotest.NewWorkshop("go")))
	_, err := w.AddUser(ctx, "go", "ada@example.org")
	require.NoError(t, err)
	_, err = w.AppendEmail(ctx, "go", repotest.NewEmail("e1", "A"))
	require.NoError(t, err)

	assert.Equal(t, "Ada", mr.HGet("wm:user:ada@example.org", "name"))
	assert.Equal(t, "0", mr.HGet("wm:user:ada@example.org", "confirmed"))
	members, err := mr.ZMembers("wm:user:ada@example.org:delivered")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, members)
	got, err := mr.Get("wm:secret:secret-go")
	require.NoError(t, err)
	assert.Equal(t, "go", got)
	list, err := mr.List("wm:ws:go:emails")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecordDelivery_MissingUser(t *testing.T) {
	_, client := newClient(t)
	err := NewUserRepo(client, "t", 0).RecordDelivery(context.Background(), "ghost@example.org", []string{"e1"})
	assert.True(t, errors.Is(err, domain.ErrUserNotFound), "got %v", err)
}

func TestWatch_ExhaustedRetriesIsConflict(t *testing.T) {
	_, client := newClient(t)
	r := NewUserRepo(client, "t", 2)
	ctx := context.Background()
	require.NoError(t, r.CreateUnconfirmed(ctx, "ada@example.org", domain.UserAttributes{}, "k"))

	// Touch the watched key between WATCH and EXEC on every attempt.
	calls := 0
	err := r.watch(ctx, func(tx *redis.Tx) error {
		calls++
		require.NoError(t, client.HSet(ctx, r.userKey("ada@example.org"), "touch", calls).Err())
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.userKey("ada@example.org"), "name", "x")
			return nil
		})
		return err
	}, r.userKey("ada@example.org"))

	assert.ErrorIs(t, err, domain.ErrWriteConflict)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, calls)
}
