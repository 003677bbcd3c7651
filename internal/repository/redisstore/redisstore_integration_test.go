//go:build integration

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ignite/workshop-mailer/internal/repository/repotest"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

// setupRedis starts a real Redis 7 container. miniredis covers the unit
// tests; this one checks WATCH/MULTI contention against the real server.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_Redis_Repositories(t *testing.T) {
	client := setupRedis(t)
	fresh := func(t *testing.T) {
		require.NoError(t, client.FlushDB(context.Background()).Err())
	}

	repotest.RunUserSuite(t, func(t *testing.T) users.Repository {
		fresh(t)
		return NewUserRepo(client, "wm", 50)
	})
	repotest.RunWorkshopSuite(t, func(t *testing.T) workshops.Repository {
		fresh(t)
		return NewWorkshopRepo(client, "wm", 50)
	})
}
