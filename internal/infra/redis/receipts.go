package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tellerhq/teller/internal/core/domain"
)

// Client wraps Redis operations for execute idempotency and receipt
// caching.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func reserveKey(sessionID string) string {
	return fmt.Sprintf("transfer_submit:%s", sessionID)
}

func resultKey(sessionID string) string {
	return fmt.Sprintf("transfer_result:%s", sessionID)
}

// ReserveSubmission takes the submission lock for a session. Returns
// false if another submission for the same session is already in
// flight or completed.
func (c *Client) ReserveSubmission(
	ctx context.Context,
	sessionID string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, reserveKey(sessionID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseSubmission drops the submission lock, letting the caller
// re-drive execute after a failure.
func (c *Client) ReleaseSubmission(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, reserveKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// StoreResult caches the transaction result for a session.
func (c *Client) StoreResult(
	ctx context.Context,
	sessionID string,
	result *domain.TransactionResult,
	ttl time.Duration,
) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.Set(ctx, resultKey(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// GetResult returns the cached transaction result for a session, if any.
func (c *Client) GetResult(
	ctx context.Context,
	sessionID string,
) (*domain.TransactionResult, bool, error) {
	data, err := c.rdb.Get(ctx, resultKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}

	var result domain.TransactionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, true, nil
}
