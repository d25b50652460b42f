/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
)

// Client wraps a redis client with the project's key and encoding conventions.
// It is safe for concurrent use.
type Client struct {
	rdb *redis.Client
}

func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.WrapError(err, "invalid kv-store url", errors.TypeInternal)
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewClientFromRedis wraps an existing redis client, used by tests.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// casStatusScript transitions a hash's status field only when the current
// value matches. Returns 1 on success, 0 on mismatch.
var casStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

// CompareAndSetField atomically sets field to next only if it currently
// equals expected. The single linearization point for status transitions.
func (c *Client) CompareAndSetField(ctx context.Context, key, field, expected, next string) (bool, error) {
	res, err := casStatusScript.Run(ctx, c.rdb, []string{key}, field, expected, next).Int()
	if err != nil {
		return false, errors.WrapError(err, "compare-and-set failed", errors.TypeInternal)
	}
	return res == 1, nil
}

func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.rdb.HSet(ctx, key, values).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// TTL returns the key's remaining lifetime: -1s for no expiry, -2s for a
// missing key, as redis reports them.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// SetJSON marshals value and stores it under key with the given TTL.
// A zero ttl stores without expiry.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapError(err, "marshal value", errors.TypeInternal)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads key into target. Returns false when the key does not exist.
func (c *Client) GetJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, errors.WrapError(err, "unmarshal value", errors.TypeInternal)
	}
	return true, nil
}

func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	return c.rdb.LPush(ctx, key, values...).Err()
}

func (c *Client) RPop(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *Client) LRem(ctx context.Context, key string, value string) error {
	return c.rdb.LRem(ctx, key, 0, value).Err()
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) Scan(ctx context.Context, pattern string, count int64) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// SlidingWindowResult is the outcome of one sliding-window check.
type SlidingWindowResult struct {
	Allowed           bool
	Current           int64
	Limit             int64
	RetryAfterSeconds int
	ResetSeconds      int
}

// SlidingWindowAllow implements the sorted-set sliding window: drop entries
// older than the window, count, then admit or deny. The record is only added
// when the request is admitted. TTL is window + 60s so idle keys expire.
func (c *Client) SlidingWindowAllow(ctx context.Context, key string, windowSeconds int, limit int64) (*SlidingWindowResult, error) {
	now := time.Now()
	nowScore := float64(now.UnixMilli()) / 1000.0
	windowStart := nowScore - float64(windowSeconds)

	pipe := c.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart))
	cardCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	current := cardCmd.Val()
	if current >= limit {
		retryAfter := windowSeconds
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			elapsed := nowScore - oldest[0].Score
			retryAfter = windowSeconds - int(elapsed) + 1
		}
		if retryAfter < 1 {
			retryAfter = 1
		}
		if retryAfter > windowSeconds {
			retryAfter = windowSeconds
		}
		return &SlidingWindowResult{
			Allowed:           false,
			Current:           current,
			Limit:             limit,
			RetryAfterSeconds: retryAfter,
			ResetSeconds:      retryAfter,
		}, nil
	}

	pipe = c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: now.UnixNano()})
	pipe.Expire(ctx, key, time.Duration(windowSeconds+60)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return &SlidingWindowResult{
		Allowed:      true,
		Current:      current + 1,
		Limit:        limit,
		ResetSeconds: windowSeconds,
	}, nil
}

func formatScore(score float64) string {
	return "(" + trimFloat(score)
}

func trimFloat(f float64) string {
	data, _ := json.Marshal(f)
	return string(data)
}
