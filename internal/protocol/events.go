// Package protocol defines the wire contract shared by the client SDK
// and the devserver: socket event names, their typed payloads, and the
// REST request/response bodies. Payloads use typed structs rather than
// map[string]any.
package protocol

import (
	"encoding/json"
	"time"
)

type EventType string

// Events pushed to the client.
const (
	EventNewMessage       EventType = "new_message"
	EventMessageEdited    EventType = "message_edited"
	EventMessageDeleted   EventType = "message_deleted"
	EventMessageReaction  EventType = "message_reaction"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageSeen      EventType = "message_seen"
	EventUserTyping       EventType = "user_typing"
	EventUserStopTyping   EventType = "user_stop_typing"
	EventOnlineUsers      EventType = "online_users"
	EventUserStatus       EventType = "user_status"
	EventError            EventType = "error"
)

// Events the client emits.
const (
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop_typing"
	EventSeenMessage    EventType = "seen_message"
	EventGetOnlineUsers EventType = "get_online_users"
)

// Envelope is a received socket frame; Payload stays raw until the
// event type selects a concrete payload struct.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outgoing is a frame about to be written.
type Outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// ReplyPayload is the denormalized quote snapshot carried on the wire.
type ReplyPayload struct {
	ID       string `json:"id"`
	Body     string `json:"body"`
	SenderID string `json:"sender_id"`
}

// MessagePayload is a full message as the server serializes it, both in
// new_message events and in history responses.
type MessagePayload struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Kind           string              `json:"kind"`
	Body           string              `json:"body,omitempty"`
	MediaRef       string              `json:"media_ref,omitempty"`
	SentAt         time.Time           `json:"sent_at"`
	Delivered      bool                `json:"delivered"`
	Read           bool                `json:"read"`
	EditedAt       *time.Time          `json:"edited_at,omitempty"`
	Deleted        bool                `json:"deleted_for_everyone"`
	ReplyTo        *ReplyPayload       `json:"reply_to,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

// MessageEditedPayload is broadcast when a message is edited.
type MessageEditedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"body"`
	EditedAt       time.Time `json:"edited_at"`
}

// MessageDeletedPayload is broadcast when a message is deleted for
// everyone.
type MessageDeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ReactionPayload carries the server's authoritative post-toggle
// reaction state for one message.
type ReactionPayload struct {
	MessageID      string              `json:"message_id"`
	ConversationID string              `json:"conversation_id"`
	Reactions      map[string][]string `json:"reactions"`
}

// DeliveredPayload carries only the message id; the store resolves the
// conversation through its id index.
type DeliveredPayload struct {
	MessageID string `json:"message_id"`
}

// SeenPayload is broadcast when the counterpart opens the conversation.
type SeenPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// TypingPayload scopes a typing signal to one conversation. Carried on
// typing, stop_typing, user_typing and user_stop_typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// StatusPayload is the per-user presence push.
type StatusPayload struct {
	UserID     string     `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// OnlineUsersPayload answers a get_online_users pull with the complete
// online set.
type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

// ErrorPayload reports a rejected inbound emission.
type ErrorPayload struct {
	Message string `json:"message"`
}
