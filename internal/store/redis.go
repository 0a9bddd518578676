package store

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the Redis backend.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string // key prefix, e.g. "predict:"
}

// RedisStore keeps each entry as a string key and indexes every key in a
// sorted set with score 0, so ZRANGEBYLEX returns prefix scans in bytewise
// order.
//
// Key schema:
//
//	{ns}kv:{key}  - value
//	{ns}kv:index  - zset of all keys
type RedisStore struct {
	rdb *redis.Client
	ns  string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, storageError("redis ping", err)
	}
	return &RedisStore{rdb: rdb, ns: cfg.Namespace}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, ns: namespace}
}

func (s *RedisStore) valueKey(key string) string { return s.ns + "kv:" + key }
func (s *RedisStore) indexKey() string          { return s.ns + "kv:index" }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("redis get", err)
	}
	return v, nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	max := "+"
	if end := prefixEnd(prefix); end != "" {
		max = "(" + end
	}
	keys, err := s.rdb.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "[" + prefix,
		Max: max,
	}).Result()
	if err != nil {
		return nil, storageError("redis scan index", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	valueKeys := make([]string, len(keys))
	for i, k := range keys {
		valueKeys[i] = s.valueKey(k)
	}
	values, err := s.rdb.MGet(ctx, valueKeys...).Result()
	if err != nil {
		return nil, storageError("redis mget", err)
	}

	out := make([]Entry, 0, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry without a value: a concurrent delete. Skip it.
			continue
		}
		out = append(out, Entry{Key: keys[i], Value: []byte(str)})
	}
	return out, nil
}

// Apply runs all writes inside MULTI/EXEC.
func (s *RedisStore) Apply(ctx context.Context, writes []Write) error {
	pipe := s.rdb.TxPipeline()
	for _, w := range writes {
		if w.Delete {
			pipe.Del(ctx, s.valueKey(w.Key))
			pipe.ZRem(ctx, s.indexKey(), w.Key)
			continue
		}
		pipe.Set(ctx, s.valueKey(w.Key), w.Value, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: w.Key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storageError("redis exec", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
