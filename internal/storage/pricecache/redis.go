package pricecache

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

const redisKeyPrefix = "jupalyse:price:"

// RedisStore keeps entries in Redis without expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromURL connects using a redis:// URL and checks the connection.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return NewRedisStore(rdb), nil
}

func redisKey(key domain.PriceKey) string {
	return fmt.Sprintf("%s%s:%d", redisKeyPrefix, key.Mint, key.Bucket)
}

func (s *RedisStore) Get(ctx context.Context, key domain.PriceKey) (Entry, bool, error) {
	val, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "get price %s", key)
	}

	entry, err := decodeEntry(val)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Set uses SETNX so concurrent writers cannot replace an existing entry.
func (s *RedisStore) Set(ctx context.Context, key domain.PriceKey, entry Entry) error {
	if err := s.rdb.SetNX(ctx, redisKey(key), encodeEntry(entry), 0).Err(); err != nil {
		return errors.Wrapf(err, "set price %s", key)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, key domain.PriceKey) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check price %s", key)
	}
	return n > 0, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
