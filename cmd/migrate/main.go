package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/pkg/distlock"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/repository/dynamo"
	"github.com/ignite/workshop-mailer/internal/repository/mongostore"
	"github.com/ignite/workshop-mailer/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	listOnly := flag.Bool("list", false, "list the Postgres tables instead of migrating")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		err = migratePostgres(ctx, cfg.Storage.Postgres.DatabaseURL, *listOnly)
	case config.BackendMongo:
		err = migrateMongo(ctx, cfg.Storage.Mongo)
	case config.BackendDynamoDB:
		err = migrateDynamo(ctx, cfg.Storage.DynamoDB)
	default:
		logger.Info("nothing to migrate", "backend", cfg.Storage.Backend)
	}
	if err != nil {
		logger.Error("migration failed", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "backend", cfg.Storage.Backend)
}

func migratePostgres(ctx context.Context, dsn string, listOnly bool) error {
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	logger.Info("connected to database")

	if listOnly {
		return listTables(ctx, db)
	}

	statements := append(append([]string(nil), postgres.Schema...), distlock.ClaimsTableDDL)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.Info("schema applied", "statements", len(statements))
	return nil
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}

func migrateMongo(ctx context.Context, cfg config.MongoConfig) error {
	client, err := mongostore.Connect(ctx, cfg.URI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	return mongostore.EnsureIndexes(ctx, client.Database(cfg.Database))
}

func migrateDynamo(ctx context.Context, cfg config.DynamoDBConfig) error {
	client, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	return dynamo.CreateTables(ctx, client, cfg.UsersTable, cfg.WorkshopsTable)
}
