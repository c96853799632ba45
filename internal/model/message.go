package model

import "time"

// Kind is the content type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// SenderRole says which side of the conversation sent a message. It is
// derived once, at the store boundary, by comparing the wire sender id
// against the signed-in identity; downstream code never re-compares ids.
type SenderRole string

const (
	RoleSelf        SenderRole = "self"
	RoleCounterpart SenderRole = "counterpart"
)

// DeliveryState is the delivery progress of a message. Transitions are
// forward-only: sent -> delivered -> read.
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// rank orders delivery states so monotonicity checks are a comparison,
// not a case analysis.
func (d DeliveryState) rank() int {
	switch d {
	case DeliveryDelivered:
		return 1
	case DeliveryRead:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether d is at or past other in the delivery order.
func (d DeliveryState) AtLeast(other DeliveryState) bool {
	return d.rank() >= other.rank()
}

// ReplyRef is a denormalized snapshot of the quoted message, taken at
// send time. It is intentionally not a live pointer: later edits or
// deletes of the quoted message do not update it.
type ReplyRef struct {
	ID   string     `json:"id"`
	Body string     `json:"body"`
	Role SenderRole `json:"role"`
}

// Message is the atomic unit of a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderRole     SenderRole    `json:"sender_role"`
	Kind           Kind          `json:"kind"`
	Body           string        `json:"body,omitempty"`
	MediaRef       string        `json:"media_ref,omitempty"`
	SentAt         time.Time     `json:"sent_at"`
	Delivery       DeliveryState `json:"delivery"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	Deleted        bool          `json:"deleted_for_everyone"`
	ReplyTo        *ReplyRef     `json:"reply_to,omitempty"`

	// Reactions maps an emoji token to the ids of the users who chose
	// it. The map is replaced wholesale from the server's authoritative
	// state, never merged locally.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// Pending marks an optimistic local send that the server has not
	// confirmed yet; Failed marks one whose request definitively failed.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// Before reports whether m sorts before other in the conversation's
// total order: sent_at ascending, ties broken by id so that renders are
// deterministic regardless of event arrival order.
func (m *Message) Before(other *Message) bool {
	if !m.SentAt.Equal(other.SentAt) {
		return m.SentAt.Before(other.SentAt)
	}
	return m.ID < other.ID
}

// Tombstoned reports whether the message must render as deleted
// content. Tombstoned messages keep their id and position so that
// out-of-order events referencing them still apply.
func (m *Message) Tombstoned() bool {
	return m.Deleted
}
