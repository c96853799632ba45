package memory

import (
	"context"
	"sync"
	"time"
)

// Client is the in-process presence store used when no Redis URL is
// configured. State dies with the process, which is fine for a dev
// backend.
type Client struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
}

func New() *Client {
	return &Client{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(ctx context.Context, userID string, online bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.online[userID] = struct{}{}
		return nil
	}
	delete(c.online, userID)
	c.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	return out, nil
}

func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen[userID], nil
}
