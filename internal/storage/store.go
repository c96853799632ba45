// Package storage defines the devserver's presence store: the online
// set and last-seen timestamps that back online_users pulls and
// user_status pushes. Implementations: redis.Client, memory.Client
// (for running without Redis).
package storage

import (
	"context"
	"time"
)

type PresenceStore interface {
	// SetOnline toggles a user's membership in the online set; going
	// offline records the last-seen timestamp.
	SetOnline(ctx context.Context, userID string, online bool) error
	OnlineUsers(ctx context.Context) ([]string, error)
	// LastSeen returns the zero time when the user never went offline.
	LastSeen(ctx context.Context, userID string) (time.Time, error)
	Close() error
}
