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

type MatchRepository struct {
	pool *pgxpool.Pool
}

func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

func (r *MatchRepository) Create(ctx context.Context, m *model.Match) error {
	defer logger.DeferLogDuration("match.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO matches (id, user1_id, user2_id, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.User1ID, m.User2ID, m.IsActive, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("matchRepo.Create: %w", err)
	}
	return nil
}

func (r *MatchRepository) GetByID(ctx context.Context, id string) (*model.Match, error) {
	defer logger.DeferLogDuration("match.GetByID", time.Now())()
	m := &model.Match{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user1_id, user2_id, is_active, created_at FROM matches WHERE id = $1`, id,
	).Scan(&m.ID, &m.User1ID, &m.User2ID, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("matchRepo.GetByID: %w", err)
	}
	return m, nil
}

// IsMember reports whether userID belongs to an active match.
func (r *MatchRepository) IsMember(ctx context.Context, matchID, userID string) (bool, error) {
	defer logger.DeferLogDuration("match.IsMember", time.Now())()
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM matches
		   WHERE id = $1 AND is_active AND (user1_id = $2 OR user2_id = $2)
		 )`, matchID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("matchRepo.IsMember: %w", err)
	}
	return ok, nil
}

// GetUserMatches returns the active matches for one user.
func (r *MatchRepository) GetUserMatches(ctx context.Context, userID string) ([]model.Match, error) {
	defer logger.DeferLogDuration("match.GetUserMatches", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user1_id, user2_id, is_active, created_at
		 FROM matches
		 WHERE is_active AND (user1_id = $1 OR user2_id = $1)
		 ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("matchRepo.GetUserMatches query: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.User1ID, &m.User2ID, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("matchRepo.GetUserMatches scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("matchRepo.GetUserMatches rows: %w", err)
	}
	return matches, nil
}
