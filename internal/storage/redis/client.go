package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey   = "presence:online"
	lastSeenPrefix = "presence:last_seen:"
	// Last-seen entries expire after 30 days; stale counterparts fall
	// back to "no data".
	lastSeenTTL = 30 * 24 * time.Hour
)

// Client keeps the presence set in Redis so multiple devserver
// instances (or restarts) agree on who is online.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetOnline(ctx context.Context, userID string, online bool) error {
	if online {
		return c.cli.SAdd(ctx, onlineSetKey, userID).Err()
	}
	pipe := c.cli.TxPipeline()
	pipe.SRem(ctx, onlineSetKey, userID)
	pipe.Set(ctx, lastSeenPrefix+userID, time.Now().UTC().Format(time.RFC3339), lastSeenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	return c.cli.SMembers(ctx, onlineSetKey).Result()
}

func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	val, err := c.cli.Get(ctx, lastSeenPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis last_seen parse: %w", err)
	}
	return t, nil
}
