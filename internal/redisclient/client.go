package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_grant.lua
var claimGrantScript string

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewClient creates a new Redis client with the grant script loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimGrantScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimGrant atomically claims the loyalty grant for an order id.
// Returns true when this call claimed it, false when it was already claimed
// by an earlier attempt.
func (c *Client) ClaimGrant(ctx context.Context, orderID string, points int64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("grant:%s", orderID)

	result, err := c.claimScript.Run(ctx, c.rdb, []string{key}, points, int(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("claim grant script failed: %w", err)
	}

	claimed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return claimed == 1, nil
}

// AcquireCheckoutLock takes the per-user checkout lock. A second placement
// attempt for the same user while the lock is held is rejected upstream.
func (c *Client) AcquireCheckoutLock(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("checkout:%s", userID), "1", ttl).Result()
}

// ReleaseCheckoutLock releases the per-user checkout lock
func (c *Client) ReleaseCheckoutLock(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("checkout:%s", userID)).Err()
}

// CacheMultiplier stores the current demand multiplier for UI previews
func (c *Client) CacheMultiplier(ctx context.Context, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "pricing:multiplier", value, ttl).Err()
}

// GetCachedMultiplier retrieves the cached demand multiplier, "" when unset
func (c *Client) GetCachedMultiplier(ctx context.Context) (string, error) {
	val, err := c.rdb.Get(ctx, "pricing:multiplier").Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
