package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository persists messages as the wire serializes them
// (protocol.MessagePayload); the reply snapshot and reaction map are
// stored as jsonb, mirroring their denormalized wire shape.
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageCols = `id, match_id, sender_id, kind, body, media_ref, sent_at,
	is_delivered, is_read, edited_at, deleted_for_everyone, reply_to, reactions`

func (r *MessageRepository) Create(ctx context.Context, m *protocol.MessagePayload) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()

	var replyJSON []byte
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return fmt.Errorf("msgRepo.Create marshal reply: %w", err)
		}
		replyJSON = b
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, match_id, sender_id, kind, body, media_ref, sent_at,
		                       is_delivered, is_read, edited_at, deleted_for_everyone, reply_to, reactions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '{}'::jsonb)`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Body, m.MediaRef, m.SentAt,
		m.Delivered, m.Read, m.EditedAt, m.Deleted, replyJSON,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*protocol.MessagePayload, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// History returns the conversation's messages in send order, excluding
// rows the viewer deleted for themselves and blanking tombstoned
// content server-side so it never reaches a device again.
func (r *MessageRepository) History(ctx context.Context, matchID, viewerID string) ([]protocol.MessagePayload, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages m
		 WHERE match_id = $1
		   AND NOT EXISTS (
		     SELECT 1 FROM message_deletes d
		     WHERE d.message_id = m.id AND d.user_id = $2
		   )
		 ORDER BY sent_at, id`, matchID, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	defer rows.Close()

	var out []protocol.MessagePayload
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.History scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.History rows: %w", err)
	}
	return out, nil
}

// MarkDelivered flags the viewer's undelivered inbound messages and
// returns their ids so the caller can fan out message_delivered events.
func (r *MessageRepository) MarkDelivered(ctx context.Context, matchID, viewerID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.MarkDelivered", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE messages SET is_delivered = true
		 WHERE match_id = $1 AND sender_id <> $2 AND NOT is_delivered
		 RETURNING id`, matchID, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkDelivered: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.MarkDelivered scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead flags every inbound message in the conversation read.
func (r *MessageRepository) MarkRead(ctx context.Context, matchID, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true, is_delivered = true
		 WHERE match_id = $1 AND sender_id <> $2 AND NOT is_read`, matchID, readerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateBody", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET body = $2, edited_at = $3 WHERE id = $1`, id, body, editedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateBody: %w", err)
	}
	return nil
}

// Tombstone marks a message deleted for everyone and blanks its
// content. The row survives so late events referencing it still land.
func (r *MessageRepository) Tombstone(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Tombstone", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_for_everyone = true, body = '', media_ref = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("msgRepo.Tombstone: %w", err)
	}
	return nil
}

// DeleteForUser records a per-viewer delete; history for that viewer
// skips the row, other viewers are unaffected.
func (r *MessageRepository) DeleteForUser(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("msg.DeleteForUser", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_deletes (message_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, id, userID)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteForUser: %w", err)
	}
	return nil
}

// ToggleReaction flips the user's membership under the emoji and
// returns the resulting authoritative map. Runs in a transaction with
// the row locked; the client never predicts this merge.
func (r *MessageRepository) ToggleReaction(ctx context.Context, id, userID, emoji string) (map[string][]string, error) {
	defer logger.DeferLogDuration("msg.ToggleReaction", time.Now())()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT reactions FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction select: %w", err)
	}

	reactions := make(map[string][]string)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return nil, fmt.Errorf("msgRepo.ToggleReaction unmarshal: %w", err)
		}
	}

	users := reactions[emoji]
	found := false
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		users = append(users, userID)
	}
	if len(users) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = users
	}

	updated, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction marshal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages SET reactions = $2 WHERE id = $1`, id, updated); err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.ToggleReaction commit: %w", err)
	}
	return reactions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*protocol.MessagePayload, error) {
	m := &protocol.MessagePayload{}
	var (
		editedAt  *time.Time
		replyRaw  []byte
		reactsRaw []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Body, &m.MediaRef, &m.SentAt,
		&m.Delivered, &m.Read, &editedAt, &m.Deleted, &replyRaw, &reactsRaw)
	if err != nil {
		return nil, err
	}
	m.EditedAt = editedAt
	if len(replyRaw) > 0 {
		var ref protocol.ReplyPayload
		if err := json.Unmarshal(replyRaw, &ref); err == nil {
			m.ReplyTo = &ref
		}
	}
	if len(reactsRaw) > 0 {
		reactions := make(map[string][]string)
		if err := json.Unmarshal(reactsRaw, &reactions); err == nil && len(reactions) > 0 {
			m.Reactions = reactions
		}
	}
	if m.Deleted {
		m.Body = ""
		m.MediaRef = ""
	}
	return m, nil
}
