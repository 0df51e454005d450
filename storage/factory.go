package storage

import (
	"context"
	"fmt"

	"github.com/johnwmail/pastebin-lite/config"
	"go.uber.org/zap"
)

// NewStore creates a storage backend based on the configuration
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (PasteStore, error) {
	lease := []LeaseOption{WithLeaseDuration(cfg.LockLease)}

	switch cfg.StorageType {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, pastes are lost on restart")
		return NewMemoryStore(), nil

	case config.StorageSQLite, config.StoragePostgres, config.StorageMySQL:
		logger.Info("Using SQL storage", zap.String("dialect", cfg.StorageType))
		if cfg.StorageType == config.StorageSQLite {
			logger.Warn("sqlite allows one transaction at a time, so fetches of different pastes wait on each other; use postgres in production")
		}
		return checked(NewSQLStore(cfg.StorageType, cfg.DatabaseDSN))

	case config.StorageMongoDB:
		logger.Info("Using MongoDB storage",
			zap.String("database", cfg.MongoDBDatabase),
			zap.String("collection", cfg.MongoDBCollection))
		return checked(NewMongoStore(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, cfg.MongoDBCollection, lease...))

	case config.StorageDynamoDB:
		logger.Info("Using DynamoDB storage",
			zap.String("table", cfg.DynamoDBTable),
			zap.String("region", cfg.AWSRegion))
		return checked(NewDynamoStore(ctx, cfg.DynamoDBTable, cfg.AWSRegion, lease...))

	case config.StorageRedis:
		logger.Info("Using Redis storage", zap.String("prefix", cfg.RedisPrefix))
		return checked(NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, lease...))

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// checked keeps a failed constructor from leaking a typed nil into the interface
func checked(store PasteStore, err error) (PasteStore, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
