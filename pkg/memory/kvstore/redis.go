// Package kvstore adapts github.com/redis/go-redis/v9 to the
// memory.KVStore port, mirroring the teacher's own layering for
// Redis-backed clients (features/stream/pulse/clients/pulse.Client):
// callers build a *redis.Client and pass it to New, which exposes only
// the operations memory.KVStore needs.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Koko12137/tasking-community-sub000/pkg/memory"
)

// Store implements memory.KVStore on top of a Redis connection.
type Store struct {
	redis  *redis.Client
	prefix string
}

// New constructs a Store backed by the provided Redis connection. prefix,
// when non-empty, namespaces every key this store touches so a shared
// Redis instance can host more than one run's checkpoint data.
func New(client *redis.Client, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("kvstore: redis client is required")
	}
	return &Store{redis: client, prefix: prefix}, nil
}

var _ memory.KVStore = (*Store)(nil)

func (s *Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the value stored at key, or memory.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return val, nil
}

// Set stores value at key. A zero ttl means the key never expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. It is a no-op (not an error) when key is absent,
// matching Redis DEL semantics.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}
