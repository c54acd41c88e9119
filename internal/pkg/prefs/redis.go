package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefsHash is the Redis hash holding one namespace: prefs:{namespace}.
const keyPrefsHash = "prefs:%s"

// Redis stores a namespace as one hash. Each Apply runs in a MULTI/EXEC pipeline.
type Redis struct {
	rdb  *redis.Client
	hash string
}

// NewRedis creates a Redis-backed store for namespace.
func NewRedis(rdb *redis.Client, namespace string) *Redis {
	return &Redis{rdb: rdb, hash: fmt.Sprintf(keyPrefsHash, namespace)}
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.hash, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get preference: %w", err)
	}
	return v, true, nil
}

// Contains reports whether key is present.
func (r *Redis) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.HExists(ctx, r.hash, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check preference: %w", err)
	}
	return ok, nil
}

// Apply runs the batch atomically.
func (r *Redis) Apply(ctx context.Context, b Batch) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if b.Clear {
			pipe.Del(ctx, r.hash)
		}
		for _, op := range b.Ops {
			switch op.Kind {
			case OpPut:
				pipe.HSet(ctx, r.hash, op.Key, op.Value)
			case OpRemove:
				pipe.HDel(ctx, r.hash, op.Key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}
	return nil
}
