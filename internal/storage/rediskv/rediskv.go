// Package rediskv реализует контракт storage.KVStore поверх Redis —
// локальное durable-хранилище ledger'а баллов.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/brucelancer/tunnel-ad-main-sub003/internal/storage"
)

// Store — клиент Redis с префиксом ключей.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.KVStore = (*Store)(nil)

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "engagement:".
func New(ctx context.Context, redisURL, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = "engagement:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("rediskv: parse url: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediskv: ping: %w", err)
	}

	return &Store{rdb: rdb, prefix: prefix}, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

// Get возвращает значение и признак его наличия.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("rediskv: get: %w", err)
	}

	return val, true, nil
}

// Set сохраняет значение без TTL: записи ledger'а живут вечно.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("rediskv: set: %w", err)
	}

	return nil
}

// Close закрывает клиент Redis.
func (s *Store) Close() error {
	return s.rdb.Close()
}
