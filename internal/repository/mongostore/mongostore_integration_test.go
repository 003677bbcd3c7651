//go:build integration

package mongostore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ignite/workshop-mailer/internal/repository/repotest"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

// setupMongo starts a disposable MongoDB container for the whole test.
func setupMongo(t *testing.T) *mongo.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client
}

func TestIntegration_Mongo_Repositories(t *testing.T) {
	client := setupMongo(t)
	var n int64
	freshDB := func(t *testing.T) *mongo.Database {
		db := client.Database(fmt.Sprintf("wm_test_%d", atomic.AddInt64(&n, 1)))
		require.NoError(t, EnsureIndexes(context.Background(), db))
		return db
	}

	repotest.RunUserSuite(t, func(t *testing.T) users.Repository {
		return NewUserRepo(freshDB(t))
	})
	repotest.RunWorkshopSuite(t, func(t *testing.T) workshops.Repository {
		return NewWorkshopRepo(freshDB(t))
	})
}
