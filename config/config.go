package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends understood by storage.NewStore
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
	StorageMongoDB  = "mongodb"
	StorageDynamoDB = "dynamodb"
	StorageRedis    = "redis"
)

// StorageTypeUsage is the help text of the storage-type flag
var StorageTypeUsage = "Storage backend: " + strings.Join(validStorageTypes, ", ") +
	". sqlite serializes all fetches and suits development only; use postgres in production"

var validStorageTypes = []string{
	StorageMemory, StorageSQLite, StoragePostgres, StorageMySQL,
	StorageMongoDB, StorageDynamoDB, StorageRedis,
}

// Config holds all configuration for the pastebin service
type Config struct {
	// Server configuration
	Port            int    `json:"port"`
	BaseURL         string `json:"base_url"`
	ForceHTTPSHosts string `json:"force_https_hosts"`
	MaxBodyBytes    int64  `json:"max_body_bytes"`
	TestMode        bool   `json:"test_mode"`

	// Storage configuration
	StorageType       string `json:"storage_type"`
	DatabaseDSN       string `json:"database_dsn"`
	MongoDBURI        string `json:"mongodb_uri"`
	MongoDBDatabase   string `json:"mongodb_database"`
	MongoDBCollection string `json:"mongodb_collection"`
	DynamoDBTable     string `json:"dynamodb_table"`
	AWSRegion         string `json:"aws_region"`
	RedisURL          string `json:"redis_url"`
	RedisPrefix       string `json:"redis_prefix"`

	// Locking
	LockTimeout time.Duration `json:"lock_timeout"`
	LockLease   time.Duration `json:"lock_lease"`

	// Events
	RabbitMQURL      string `json:"rabbitmq_url"`
	RabbitMQExchange string `json:"rabbitmq_exchange"`

	// Operational configuration
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	EnableMetrics bool   `json:"enable_metrics"`

	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	CommitHash string `json:"commit_hash"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:              8080,
		ForceHTTPSHosts:   "railway,vercel",
		StorageType:       StorageSQLite,
		DatabaseDSN:       "pastebin.db",
		MongoDBURI:        "mongodb://localhost:27017",
		MongoDBDatabase:   "pastebin",
		MongoDBCollection: "pastes",
		DynamoDBTable:     "pastebin-pastes",
		RedisURL:          "redis://localhost:6379/0",
		RedisPrefix:       "pastebin",
		LockTimeout:       5 * time.Second,
		LockLease:         30 * time.Second,
		RabbitMQExchange:  "pastebin_events",
		LogLevel:          "info",
		LogFormat:         "json",
		EnableMetrics:     true,
	}
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and the given command-line arguments, in increasing precedence.
func LoadConfig(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()

	fs := flag.NewFlagSet("pastebin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.IntVar(&cfg.Port, "port", getEnvInt("PASTEBIN_PORT", cfg.Port), "Port to listen on")
	fs.StringVar(&cfg.BaseURL, "base-url", getEnvString("PASTEBIN_BASE_URL", cfg.BaseURL), "Base URL for paste links (derived from the request when empty)")
	fs.StringVar(&cfg.ForceHTTPSHosts, "force-https-hosts", getEnvString("PASTEBIN_FORCE_HTTPS_HOSTS", cfg.ForceHTTPSHosts), "Comma-separated host fragments that always get https links")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", getEnvInt64("PASTEBIN_MAX_BODY_BYTES", cfg.MaxBodyBytes), "Maximum request body size in bytes (0 = unlimited)")
	fs.BoolVar(&cfg.TestMode, "test-mode", getEnvBool("PASTEBIN_TEST_MODE", getEnvBool("TEST_MODE", cfg.TestMode)), "Honour the x-test-now-ms header")

	fs.StringVar(&cfg.StorageType, "storage-type", getEnvString("PASTEBIN_STORAGE_TYPE", cfg.StorageType), StorageTypeUsage)
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", getEnvString("PASTEBIN_DATABASE_DSN", cfg.DatabaseDSN), "SQL DSN (or file for sqlite)")
	fs.StringVar(&cfg.MongoDBURI, "mongodb-uri", getEnvString("PASTEBIN_MONGODB_URI", cfg.MongoDBURI), "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDBDatabase, "mongodb-database", getEnvString("PASTEBIN_MONGODB_DATABASE", cfg.MongoDBDatabase), "MongoDB database name")
	fs.StringVar(&cfg.MongoDBCollection, "mongodb-collection", getEnvString("PASTEBIN_MONGODB_COLLECTION", cfg.MongoDBCollection), "MongoDB collection name")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", getEnvString("PASTEBIN_DYNAMODB_TABLE", cfg.DynamoDBTable), "DynamoDB table name")
	fs.StringVar(&cfg.AWSRegion, "aws-region", getEnvString("AWS_REGION", cfg.AWSRegion), "AWS region for DynamoDB")
	fs.StringVar(&cfg.RedisURL, "redis-url", getEnvString("PASTEBIN_REDIS_URL", cfg.RedisURL), "Redis connection URL")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", getEnvString("PASTEBIN_REDIS_PREFIX", cfg.RedisPrefix), "Redis key prefix")

	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", getEnvDuration("PASTEBIN_LOCK_TIMEOUT", cfg.LockTimeout), "Maximum wait for a paste lock")
	fs.DurationVar(&cfg.LockLease, "lock-lease", getEnvDuration("PASTEBIN_LOCK_LEASE", cfg.LockLease), "Lease length for mongodb, dynamodb and redis locks")

	fs.StringVar(&cfg.RabbitMQURL, "rabbitmq-url", getEnvString("PASTEBIN_RABBITMQ_URL", cfg.RabbitMQURL), "RabbitMQ URL for paste events (disabled when empty)")
	fs.StringVar(&cfg.RabbitMQExchange, "rabbitmq-exchange", getEnvString("PASTEBIN_RABBITMQ_EXCHANGE", cfg.RabbitMQExchange), "RabbitMQ topic exchange")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnvString("PASTEBIN_LOG_LEVEL", cfg.LogLevel), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnvString("PASTEBIN_LOG_FORMAT", cfg.LogFormat), "Log format (json, console)")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", getEnvBool("PASTEBIN_ENABLE_METRICS", cfg.EnableMetrics), "Expose /metrics")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes cannot be negative: %d", c.MaxBodyBytes)
	}

	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive: %v", c.LockTimeout)
	}

	if c.LockLease <= 0 {
		return fmt.Errorf("lock lease must be positive: %v", c.LockLease)
	}

	validType := false
	for _, st := range validStorageTypes {
		if c.StorageType == st {
			validType = true
			break
		}
	}
	if !validType {
		return fmt.Errorf("invalid storage type: %s (valid: %s)", c.StorageType, strings.Join(validStorageTypes, ", "))
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.LogFormat)
	}

	return nil
}

// HTTPSHosts returns the host fragments for which links are always https
func (c *Config) HTTPSHosts() []string {
	var hosts []string
	for _, h := range strings.Split(c.ForceHTTPSHosts, ",") {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
