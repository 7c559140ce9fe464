package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Secrets outlive a dashboard tab but not the device; 30 days matches the
// session row TTL in the auth service.
const SessionSecretTTL = 30 * 24 * 3600

type Client struct {
	cli *redis.Client
}

// New wraps an already-connected Redis client. The connection is shared with
// the notification feed and the push sender; the caller owns its lifecycle.
func New(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

// Close is a no-op: the underlying connection belongs to the caller.
func (c *Client) Close() error {
	return nil
}

func (c *Client) SetSessionSecret(ctx context.Context, sessionID, secret string) error {
	return c.cli.Set(ctx, "session_secret:"+sessionID, secret, SessionSecretTTL*time.Second).Err()
}

func (c *Client) GetSessionSecret(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, "session_secret:"+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSessionSecret(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session_secret:"+sessionID).Err()
}
