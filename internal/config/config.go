package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Storage       StorageConfig       `yaml:"storage"`
	Mail          MailConfig          `yaml:"mail"`
	Inbound       InboundConfig       `yaml:"inbound"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port" env:"SERVER_PORT"`
	Host            string   `yaml:"host"`
	AllowedOrigins  []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ShutdownTimeout returns the graceful shutdown window.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	RedactPII *bool  `yaml:"redact_pii" env:"LOG_REDACT_PII"`
}

// Redact reports whether email addresses are masked in logs (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongodb"
	BackendDynamoDB = "dynamodb"
)

// StorageConfig selects the entity store backend and its settings.
type StorageConfig struct {
	Backend  string         `yaml:"backend" env:"STORAGE_BACKEND"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongodb"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DatabaseURL  string `yaml:"database_url" env:"DATABASE_URL"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds Redis connection settings. MaxRetries bounds the
// optimistic WATCH/MULTI retry loop before a write is reported as a conflict.
type RedisConfig struct {
	URL        string `yaml:"url" env:"REDIS_URL"`
	KeyPrefix  string `yaml:"key_prefix"`
	MaxRetries int    `yaml:"max_retries"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE"`
}

// DynamoDBConfig holds DynamoDB table settings. Endpoint is only set for
// DynamoDB Local.
type DynamoDBConfig struct {
	Region         string `yaml:"region" env:"DYNAMODB_REGION"`
	Endpoint       string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"`
	Profile        string `yaml:"profile" env:"AWS_PROFILE"`
	UsersTable     string `yaml:"users_table"`
	WorkshopsTable string `yaml:"workshops_table"`
}

// Mail providers.
const (
	ProviderLog     = "log"
	ProviderMailgun = "mailgun"
	ProviderSES     = "ses"
)

// MailConfig selects the outbound mail gateway.
type MailConfig struct {
	Provider    string        `yaml:"provider" env:"MAIL_PROVIDER"`
	FromAddress string        `yaml:"from_address" env:"MAIL_FROM_ADDRESS"`
	FromName    string        `yaml:"from_name"`
	Mailgun     MailgunConfig `yaml:"mailgun"`
	SES         SESConfig     `yaml:"ses"`
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey         string `yaml:"api_key" env:"MAILGUN_API_KEY"`
	BaseURL        string `yaml:"base_url" env:"MAILGUN_BASE_URL"`
	Domain         string `yaml:"domain" env:"MAILGUN_DOMAIN"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region         string `yaml:"region" env:"AWS_SES_REGION"`
	AccessKey      string `yaml:"access_key" env:"AWS_SES_ACCESS_KEY"`
	SecretKey      string `yaml:"secret_key" env:"AWS_SES_SECRET_KEY"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InboundConfig controls the inbound (routed) mail webhook.
type InboundConfig struct {
	RoutingDomain  string `yaml:"routing_domain" env:"ROUTING_DOMAIN"`
	DedupTTLHours  int    `yaml:"dedup_ttl_hours"`
	MaxUploadMB    int    `yaml:"max_upload_mb"`
	ArchiveBucket  string `yaml:"archive_bucket" env:"INBOUND_ARCHIVE_BUCKET"`
	ArchiveRegion  string `yaml:"archive_region" env:"INBOUND_ARCHIVE_REGION"`
	ArchivePrefix  string `yaml:"archive_prefix"`
	ArchiveProfile string `yaml:"archive_profile"`
	// ArchiveEndpoint points the S3 client at a compatible store (MinIO, LocalStack).
	ArchiveEndpoint string `yaml:"archive_endpoint" env:"INBOUND_ARCHIVE_ENDPOINT"`
	// ArchiveDir stores raw inbound mail on local disk when no bucket is set.
	ArchiveDir string `yaml:"archive_dir" env:"INBOUND_ARCHIVE_DIR"`
	// SigningKey is the Mailgun webhook signing key. When set, routed posts
	// without a valid timestamp/token/signature triple are rejected.
	SigningKey string `yaml:"signing_key" env:"MAILGUN_WEBHOOK_SIGNING_KEY"`
}

// DedupTTL returns how long an inbound Message-Id is remembered.
func (c InboundConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// MaxUploadBytes bounds the multipart form parsed from the webhook.
func (c InboundConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// NotificationsConfig controls signup/confirmation notification mail.
type NotificationsConfig struct {
	Enabled     *bool  `yaml:"enabled" env:"NOTIFICATIONS_ENABLED"`
	TemplateDir string `yaml:"template_dir"`
}

// On reports whether notifications are sent (default true).
func (c NotificationsConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults so the service can run from environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownSeconds == 0 {
		cfg.Server.ShutdownSeconds = 10
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.Postgres.MaxOpenConns == 0 {
		cfg.Storage.Postgres.MaxOpenConns = 20
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = "wm"
	}
	if cfg.Storage.Redis.MaxRetries == 0 {
		cfg.Storage.Redis.MaxRetries = 5
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = "warsjawa"
	}
	if cfg.Storage.DynamoDB.Region == "" {
		cfg.Storage.DynamoDB.Region = "us-east-1"
	}
	if cfg.Storage.DynamoDB.UsersTable == "" {
		cfg.Storage.DynamoDB.UsersTable = "workshop_users"
	}
	if cfg.Storage.DynamoDB.WorkshopsTable == "" {
		cfg.Storage.DynamoDB.WorkshopsTable = "workshops"
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = ProviderLog
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "Workshops"
	}
	if cfg.Mail.Mailgun.TimeoutSeconds == 0 {
		cfg.Mail.Mailgun.TimeoutSeconds = 30
	}
	if cfg.Mail.Mailgun.BaseURL == "" {
		cfg.Mail.Mailgun.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Mail.Mailgun.MaxRetries == 0 {
		cfg.Mail.Mailgun.MaxRetries = 3
	}
	if cfg.Mail.SES.TimeoutSeconds == 0 {
		cfg.Mail.SES.TimeoutSeconds = 30
	}
	if cfg.Mail.SES.Region == "" {
		cfg.Mail.SES.Region = "us-west-2"
	}
	if cfg.Inbound.DedupTTLHours == 0 {
		cfg.Inbound.DedupTTLHours = 72
	}
	if cfg.Inbound.MaxUploadMB == 0 {
		cfg.Inbound.MaxUploadMB = 32
	}
	if cfg.Inbound.ArchiveRegion == "" {
		cfg.Inbound.ArchiveRegion = "us-east-1"
	}
	if cfg.Inbound.ArchivePrefix == "" {
		cfg.Inbound.ArchivePrefix = "inbound"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Variables that are unset leave the YAML value in place.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need to start.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.Postgres.DatabaseURL == "" {
			return fmt.Errorf("storage.postgres.database_url is required for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("storage.redis.url is required for the redis backend")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required for the mongodb backend")
		}
	case BackendDynamoDB:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Mail.Provider {
	case ProviderLog:
	case ProviderMailgun:
		if c.Mail.Mailgun.APIKey == "" || c.Mail.Mailgun.Domain == "" {
			return fmt.Errorf("mail.mailgun.api_key and mail.mailgun.domain are required for the mailgun provider")
		}
	case ProviderSES:
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}

	if c.Mail.Provider != ProviderLog && c.Mail.FromAddress == "" {
		return fmt.Errorf("mail.from_address is required")
	}
	return nil
}
