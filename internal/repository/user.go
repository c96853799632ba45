package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar_url, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.AvatarURL, u.IsOnline, nullTime(u.LastSeenAt), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	var lastSeen *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, avatar_url, is_online, last_seen_at, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.AvatarURL, &u.IsOnline, &lastSeen, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	if lastSeen != nil {
		u.LastSeenAt = *lastSeen
	}
	return u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	var err error
	if online {
		_, err = r.pool.Exec(ctx, `UPDATE users SET is_online = true WHERE id = $1`, userID)
	} else {
		_, err = r.pool.Exec(ctx, `UPDATE users SET is_online = false, last_seen_at = now() WHERE id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetOnline clears every online flag; run at startup since no socket
// survived the restart.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`); err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
