package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/clinicledger/costing/internal/adapters/database"
	"github.com/clinicledger/costing/internal/adapters/document"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/clients/postgres"
	"github.com/clinicledger/costing/internal/infrastructure/clients/redis"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	"github.com/clinicledger/costing/pkg/config"
)

// openStore builds the document store selected by cfg.Store.Driver.
// The returned func releases whatever the store holds open.
func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics) (repositories.DocumentStore, func(), error) {
	noop := func() {}
	logger := observability.ComponentLogger("document-store")

	if cfg.Store.Driver == config.StoreDriverPostgres {
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		adapter := database.NewCostingDocumentAdapter(pgClient, cfg.Store.MutateAttempts, logger, metrics)
		if err := adapter.EnsureSchema(ctx); err != nil {
			_ = pgClient.Close()
			return nil, noop, err
		}
		return adapter, func() { _ = pgClient.Close() }, nil
	}

	policy, err := corruptionPolicy(cfg)
	if err != nil {
		return nil, noop, err
	}

	var (
		backend document.Backend
		closer  = noop
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		backend = document.NewMemoryBackend()
	case config.StoreDriverFile:
		if err := ensureDir(cfg.Store.FilePath); err != nil {
			return nil, noop, err
		}
		backend = document.NewFileBackend(cfg.Store.FilePath)
	case config.StoreDriverSQLite:
		if err := ensureDir(cfg.Store.SQLitePath); err != nil {
			return nil, noop, err
		}
		sqlite, err := document.NewSQLiteBackend(cfg.Store.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		backend = sqlite
		closer = func() { _ = sqlite.Close() }
	case config.StoreDriverRedis:
		if redisClient == nil {
			return nil, noop, fmt.Errorf("redis store selected but no redis client is available")
		}
		backend = document.NewRedisBackend(redisClient, cfg.Store.RedisKey)
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	log.Info().Str("driver", backend.Name()).Str("policy", string(policy)).Msg("document store opened")
	store := document.NewStore(backend, policy, logger, metrics).WithMutateAttempts(cfg.Store.MutateAttempts)
	return store, closer, nil
}

// corruptionPolicy returns the configured policy, except that a Redis key shared
// by several workers is never reset: an unreadable document fails every call instead.
func corruptionPolicy(cfg *config.Config) (document.CorruptionPolicy, error) {
	policy, err := document.ParsePolicy(cfg.Store.CorruptionPolicy)
	if err != nil {
		return "", err
	}
	if cfg.Store.Driver == config.StoreDriverRedis && policy != document.CorruptionPolicyFail {
		log.Warn().
			Str("configured", string(policy)).
			Msg("redis document store is shared, using the fail corruption policy")
		return document.CorruptionPolicyFail, nil
	}
	return policy, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}
