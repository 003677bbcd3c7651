package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/repository/dynamo"
	"github.com/ignite/workshop-mailer/internal/repository/memory"
	"github.com/ignite/workshop-mailer/internal/repository/mongostore"
	"github.com/ignite/workshop-mailer/internal/repository/postgres"
	"github.com/ignite/workshop-mailer/internal/repository/redisstore"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

type healthCheck struct {
	name      string
	slowAfter time.Duration
	check     func(ctx context.Context) error
}

// backend is the opened entity store plus the shared clients the inbound
// dedup guard can reuse.
type backend struct {
	users     users.Repository
	workshops workshops.Repository
	db        *sql.DB
	redis     *redis.Client
	checks    []healthCheck
	closers   []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the configured store. A Redis URL is honored for the
// dedup guard even when the entity store lives elsewhere.
func openBackend(ctx context.Context, cfg config.StorageConfig) (*backend, error) {
	b := &backend{}
	if cfg.Redis.URL != "" {
		if err := b.openRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	var err error
	switch cfg.Backend {
	case config.BackendPostgres:
		err = b.openPostgres(ctx, cfg.Postgres)
	case config.BackendRedis:
		b.users = redisstore.NewUserRepo(b.redis, cfg.Redis.KeyPrefix, cfg.Redis.MaxRetries)
		b.workshops = redisstore.NewWorkshopRepo(b.redis, cfg.Redis.KeyPrefix, cfg.Redis.MaxRetries)
	case config.BackendMongo:
		err = b.openMongo(ctx, cfg.Mongo)
	case config.BackendDynamoDB:
		err = b.openDynamo(ctx, cfg.DynamoDB)
	default:
		logger.Warn("using in-memory storage; data is lost on restart")
		b.users = memory.NewUserRepo()
		b.workshops = memory.NewWorkshopRepo()
	}
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backend) openRedis(ctx context.Context, cfg config.RedisConfig) error {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	b.redis = client
	b.closers = append(b.closers, func() { _ = client.Close() })
	b.checks = append(b.checks, healthCheck{"redis", 500 * time.Millisecond, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}})
	return nil
}

func (b *backend) openPostgres(ctx context.Context, cfg config.PostgresConfig) error {
	dsn := cfg.DatabaseURL
	if !strings.Contains(dsn, "connect_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "connect_timeout=5"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("postgres ping: %w", err)
	}
	b.db = db
	b.closers = append(b.closers, func() { _ = db.Close() })
	b.users = postgres.NewUserRepo(db)
	b.workshops = postgres.NewWorkshopRepo(db)
	b.checks = append(b.checks, healthCheck{"database", time.Second, db.PingContext})
	return nil
}

func (b *backend) openMongo(ctx context.Context, cfg config.MongoConfig) error {
	client, err := mongostore.Connect(ctx, cfg.URI)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
	db := client.Database(cfg.Database)
	b.users = mongostore.NewUserRepo(db)
	b.workshops = mongostore.NewWorkshopRepo(db)
	b.checks = append(b.checks, healthCheck{"database", time.Second, func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}})
	return nil
}

func (b *backend) openDynamo(ctx context.Context, cfg config.DynamoDBConfig) error {
	client, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	b.users = dynamo.NewUserRepo(client, cfg.UsersTable)
	b.workshops = dynamo.NewWorkshopRepo(client, cfg.WorkshopsTable)
	b.checks = append(b.checks, healthCheck{"database", time.Second, func(ctx context.Context) error {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.WorkshopsTable)})
		return err
	}})
	return nil
}
