package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore implements the L2 shared store backed by Redis.
type RedisStore struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// RedisConfig holds configuration for RedisStore.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis address (e.g., "localhost:6379")
	Password string `yaml:"password"` // Redis password
	DB       int    `yaml:"db"`       // Redis database number

	Namespace    string        `yaml:"namespace"`      // key namespace prefix
	DefaultTTL   time.Duration `yaml:"default_ttl"`    // default TTL (default: 10 minutes)
	DialTimeout  time.Duration `yaml:"dial_timeout"`   // connection timeout
	ReadTimeout  time.Duration `yaml:"read_timeout"`   // read timeout
	WriteTimeout time.Duration `yaml:"write_timeout"`  // write timeout
	PoolSize     int           `yaml:"pool_size"`      // connection pool size
	MinIdleConns int           `yaml:"min_idle_conns"` // minimum idle connections
	MaxRetries   int           `yaml:"max_retries"`    // maximum retries
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		Namespace:    "qaforge",
		DefaultTTL:   10 * time.Minute,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// NewRedisStoreFromClient wraps an existing Redis client. Used by tests.
func NewRedisStoreFromClient(client goredis.UniversalClient, namespace string, defaultTTL time.Duration) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &RedisStore{
		client:     client,
		namespace:  namespace,
		defaultTTL: defaultTTL,
	}
}

func (s *RedisStore) prefixKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *RedisStore) stripKey(prefixed string) string {
	if s.namespace == "" {
		return prefixed
	}
	prefix := s.namespace + ":"
	if len(prefixed) > len(prefix) && prefixed[:len(prefix)] == prefix {
		return prefixed[len(prefix):]
	}
	return prefixed
}

// Get retrieves a value from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			s.misses.Add(1)
			return nil, nil
		}
		s.errors.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	s.hits.Add(1)
	return val, nil
}

// Set stores a value in Redis with TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.client.Set(ctx, s.prefixKey(key), value, ttl).Err(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}

	s.sets.Add(1)
	return nil
}

// Delete removes a key from Redis.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	s.deletes.Add(1)
	return nil
}

// DeleteFunc scans the namespace and removes keys matching the predicate.
// The predicate receives keys without the namespace prefix.
func (s *RedisStore) DeleteFunc(ctx context.Context, predicate func(key string) bool) (int, error) {
	pattern := s.prefixKey("*")
	removed := 0

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var toDelete []string
	for iter.Next(ctx) {
		prefixed := iter.Val()
		if predicate(s.stripKey(prefixed)) {
			toDelete = append(toDelete, prefixed)
		}
	}
	if err := iter.Err(); err != nil {
		s.errors.Add(1)
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	if len(toDelete) > 0 {
		n, err := s.client.Del(ctx, toDelete...).Result()
		if err != nil {
			s.errors.Add(1)
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed = int(n)
		s.deletes.Add(n)
	}

	return removed, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Stats returns store statistics.
func (s *RedisStore) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
		Errors:  s.errors.Load(),
		HitRate: hitRate,
	}
}
