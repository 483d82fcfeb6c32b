package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/clinicledger/costing/internal/infrastructure/clients/redis"
)

// RedisBackend stores the payload under a single Redis key and its version under key + ":version".
// Writes go through WATCH on the version key so processes sharing the key cannot overwrite each other.
type RedisBackend struct {
	client *redisclient.Client
	key    string
}

var _ ConditionalBackend = (*RedisBackend)(nil)

// NewRedisBackend creates a backend writing to key
func NewRedisBackend(client *redisclient.Client, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

// Name implements Backend
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) versionKey() string { return b.key + ":version" }

// Read implements Backend
func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Client().Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return data, nil
}

// ReadVersion implements ConditionalBackend. Payload and version are read in one MULTI.
func (b *RedisBackend) ReadVersion(ctx context.Context) ([]byte, int64, error) {
	var payload, version *redis.StringCmd
	_, err := b.client.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		payload = pipe.Get(ctx, b.key)
		version = pipe.Get(ctx, b.versionKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("failed to get document: %w", err)
	}

	data, err := payload.Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("failed to get document: %w", err)
	}
	v, err := version.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("failed to get document version: %w", err)
	}
	return data, v, nil
}

// Write implements Backend. It bumps the version so pending conditional writes fail.
func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	_, err := b.client.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.key, data, 0)
		pipe.Incr(ctx, b.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// WriteIfVersion implements ConditionalBackend
func (b *RedisBackend) WriteIfVersion(ctx context.Context, data []byte, version int64) error {
	versionKey := b.versionKey()
	err := b.client.Client().Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, b.key, data, 0)
			pipe.Incr(ctx, versionKey)
			return nil
		})
		return err
	}, versionKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	default:
		return fmt.Errorf("failed to set document: %w", err)
	}
}
