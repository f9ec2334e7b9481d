package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDefaultPrefix = "order_live:cache"

// RedisStorage keeps each generation as a Redis hash (key -> JSON snapshot) and the set of
// generation names in a separate set, so several agent processes share one cache.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStorage connects and pings the server.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisStorage(client, cfg.Prefix), nil
}

func newRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) Close() error { return s.client.Close() }

func (s *RedisStorage) setKey() string { return s.prefix + ":generations" }

func (s *RedisStorage) hashKey(generation string) string {
	return s.prefix + ":gen:" + generation
}

func (s *RedisStorage) Open(ctx context.Context, generation string) (Bucket, error) {
	if err := s.client.SAdd(ctx, s.setKey(), generation).Err(); err != nil {
		return nil, fmt.Errorf("open generation %s: %w", generation, err)
	}
	return &redisBucket{s: s, gen: generation}, nil
}

func (s *RedisStorage) Generations(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, generation string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.SRem(ctx, s.setKey(), generation)
		p.Del(ctx, s.hashKey(generation))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", generation, err)
	}
	return removed.Val() > 0, nil
}

type redisBucket struct {
	s   *RedisStorage
	gen string
}

func (b *redisBucket) Match(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := b.s.client.HGet(ctx, b.s.hashKey(b.gen), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode cached %q: %w", key, err)
	}
	return &resp, true, nil
}

func (b *redisBucket) Put(ctx context.Context, key string, resp *Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = b.s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, b.s.setKey(), b.gen)
		p.HSet(ctx, b.s.hashKey(b.gen), key, raw)
		return nil
	})
	return err
}
