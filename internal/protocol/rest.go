package protocol

import "time"

// SendMessageRequest creates a message. Exactly one of Body or MediaRef
// is set, selected by Kind.
type SendMessageRequest struct {
	ConversationID string        `json:"conversation_id"`
	Kind           string        `json:"kind"`
	Body           string        `json:"body,omitempty"`
	MediaRef       string        `json:"media_ref,omitempty"`
	ReplyTo        *ReplyPayload `json:"reply_to,omitempty"`
}

// SendMessageResponse returns the authoritative id and timestamp used
// to reconcile the optimistic local copy.
type SendMessageResponse struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

type EditMessageRequest struct {
	Body string `json:"body"`
}

type DeleteMessageRequest struct {
	ForEveryone bool `json:"for_everyone"`
}

type ReactMessageRequest struct {
	Emoji string `json:"emoji"`
}

// ReactMessageResponse echoes the authoritative reaction map; the
// realtime event carries the same state to the other device.
type ReactMessageResponse struct {
	Reactions map[string][]string `json:"reactions"`
}

type HistoryResponse struct {
	Messages []MessagePayload `json:"messages"`
}

type UploadResponse struct {
	MediaRef string `json:"media_ref"`
}

// MatchesResponse lists the caller's conversations with the
// counterpart's display snapshot.
type MatchesResponse struct {
	Matches []MatchEntry `json:"matches"`
}

type MatchEntry struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Username       string     `json:"username"`
	AvatarURL      string     `json:"avatar_url"`
	IsOnline       bool       `json:"is_online"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
}
