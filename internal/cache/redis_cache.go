package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"profitboard/internal/domain"
	"profitboard/internal/logger"
)

// RedisOptions configures the summary cache connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisSummaryCache stores rollups as JSON strings with a TTL.
type RedisSummaryCache struct {
	client *redis.Client
}

func NewRedisSummaryCache(opts RedisOptions) *RedisSummaryCache {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 500 * time.Millisecond
	}
	return &RedisSummaryCache{client: redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})}
}

func (c *RedisSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSummaryCache) Close() error {
	return c.client.Close()
}

// Get reports a miss for absent keys. A payload that no longer decodes, e.g.
// written by an older build, is dropped and also reported as a miss.
func (c *RedisSummaryCache) Get(ctx context.Context, key string) (*domain.MonthlySummary, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	summary := new(domain.MonthlySummary)
	if err := json.Unmarshal(raw, summary); err != nil {
		logger.Warnw("summary_cache_corrupt", "key", key, "error", err)
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			return nil, false, delErr
		}
		return nil, false, nil
	}
	return summary, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, key string, value *domain.MonthlySummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisSummaryCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
