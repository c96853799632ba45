package chat

import (
	"encoding/json"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/protocol"
)

// Subscriber is the transport surface the reconciler consumes: one
// handler registration per event type, bound once per process, plus a
// reconnect hook for state that does not survive a transport gap.
type Subscriber interface {
	Subscribe(event protocol.EventType, fn func(payload json.RawMessage))
	OnReconnect(fn func())
}

// Emitter sends a signaling frame over the persistent connection.
type Emitter interface {
	Emit(event protocol.EventType, payload any) error
}

// Reconciler translates inbound realtime events into store mutations
// under the monotonicity rules, and routes the ephemeral event classes
// (typing, presence) to their trackers. Every handler is idempotent,
// so at-least-once delivery — reconnect replay, duplicate fan-out —
// never corrupts state. Malformed payloads are logged and dropped.
type Reconciler struct {
	store    *Store
	typing   *TypingCoordinator
	presence *PresenceTracker
	selfID   string
}

func NewReconciler(store *Store, typing *TypingCoordinator, presence *PresenceTracker, selfID string) *Reconciler {
	return &Reconciler{store: store, typing: typing, presence: presence, selfID: selfID}
}

// Bind registers the full subscription table on the transport. Called
// once per signed-in session; per-screen code never subscribes.
func (r *Reconciler) Bind(sub Subscriber, em Emitter) {
	sub.Subscribe(protocol.EventNewMessage, r.handleNewMessage)
	sub.Subscribe(protocol.EventMessageEdited, r.handleEdited)
	sub.Subscribe(protocol.EventMessageDeleted, r.handleDeleted)
	sub.Subscribe(protocol.EventMessageReaction, r.handleReaction)
	sub.Subscribe(protocol.EventMessageDelivered, r.handleDelivered)
	sub.Subscribe(protocol.EventMessageSeen, r.handleSeen)
	sub.Subscribe(protocol.EventUserTyping, r.handleTyping(true))
	sub.Subscribe(protocol.EventUserStopTyping, r.handleTyping(false))
	sub.Subscribe(protocol.EventOnlineUsers, r.handleOnlineUsers)
	sub.Subscribe(protocol.EventUserStatus, r.handleUserStatus)

	// Presence does not survive a transport gap: refresh the online
	// set after every reconnect.
	sub.OnReconnect(func() {
		if err := em.Emit(protocol.EventGetOnlineUsers, nil); err != nil {
			logger.Errorf("reconcile: presence refresh: %v", err)
		}
	})
}

// Normalize converts a wire message into the store's model. Sender
// identity is collapsed into SenderRole here, once, at the boundary;
// nothing downstream compares raw ids.
func (r *Reconciler) Normalize(p protocol.MessagePayload) model.Message {
	role := model.RoleCounterpart
	if p.SenderID == r.selfID {
		role = model.RoleSelf
	}

	delivery := model.DeliverySent
	if p.Delivered {
		delivery = model.DeliveryDelivered
	}
	if p.Read {
		delivery = model.DeliveryRead
	}

	kind := model.Kind(p.Kind)
	if kind != model.KindImage {
		kind = model.KindText
	}

	m := model.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderRole:     role,
		Kind:           kind,
		Body:           p.Body,
		MediaRef:       p.MediaRef,
		SentAt:         p.SentAt,
		Delivery:       delivery,
		EditedAt:       p.EditedAt,
		Deleted:        p.Deleted,
		Reactions:      p.Reactions,
	}
	if p.Deleted {
		m.Body = ""
		m.MediaRef = ""
	}
	if p.ReplyTo != nil {
		refRole := model.RoleCounterpart
		if p.ReplyTo.SenderID == r.selfID {
			refRole = model.RoleSelf
		}
		m.ReplyTo = &model.ReplyRef{ID: p.ReplyTo.ID, Body: p.ReplyTo.Body, Role: refRole}
	}
	return m
}

// IngestHistory runs a history fetch through the same normalization
// and idempotent upsert path as realtime events.
func (r *Reconciler) IngestHistory(conversationID string, payloads []protocol.MessagePayload) {
	for _, p := range payloads {
		if p.ConversationID == "" {
			p.ConversationID = conversationID
		}
		r.store.UpsertMessage(p.ConversationID, r.Normalize(p))
	}
}

func (r *Reconciler) handleNewMessage(raw json.RawMessage) {
	var p protocol.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" || p.ConversationID == "" {
		logger.Errorf("reconcile: bad new_message payload: %v", err)
		return
	}
	if r.store.Contains(p.ID) {
		logger.Debugf("reconcile: duplicate new_message id=%s", p.ID)
	}
	r.store.UpsertMessage(p.ConversationID, r.Normalize(p))

	// An arriving message ends the sender's typing run.
	if p.SenderID != r.selfID {
		r.typing.SetRemote(p.ConversationID, p.SenderID, false)
	}
}

func (r *Reconciler) handleEdited(raw json.RawMessage) {
	var p protocol.MessageEditedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" {
		logger.Errorf("reconcile: bad message_edited payload: %v", err)
		return
	}
	applied := r.store.PatchMessage(p.MessageID, func(m *model.Message) {
		if m.EditedAt != nil && !p.EditedAt.After(*m.EditedAt) {
			return // stale edit delivered out of order
		}
		t := p.EditedAt
		m.EditedAt = &t
		if !m.Deleted {
			m.Body = p.Body
		}
	})
	if !applied {
		logger.Debugf("reconcile: edit for unknown message id=%s", p.MessageID)
	}
}

func (r *Reconciler) handleDeleted(raw json.RawMessage) {
	var p protocol.MessageDeletedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" {
		logger.Errorf("reconcile: bad message_deleted payload: %v", err)
		return
	}
	r.store.PatchMessage(p.MessageID, func(m *model.Message) {
		if m.Deleted {
			return
		}
		m.Deleted = true
		m.Body = ""
		m.MediaRef = ""
	})
}

func (r *Reconciler) handleReaction(raw json.RawMessage) {
	var p protocol.ReactionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" {
		logger.Errorf("reconcile: bad message_reaction payload: %v", err)
		return
	}
	// Never discarded: the map is the server's authoritative
	// post-toggle state, replaced wholesale.
	r.store.PatchMessage(p.MessageID, func(m *model.Message) {
		m.Reactions = p.Reactions
	})
}

func (r *Reconciler) handleDelivered(raw json.RawMessage) {
	var p protocol.DeliveredPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" {
		logger.Errorf("reconcile: bad message_delivered payload: %v", err)
		return
	}
	r.store.PatchMessage(p.MessageID, func(m *model.Message) {
		if m.Delivery.AtLeast(model.DeliveryDelivered) {
			return
		}
		m.Delivery = model.DeliveryDelivered
	})
}

func (r *Reconciler) handleSeen(raw json.RawMessage) {
	var p protocol.SeenPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		logger.Errorf("reconcile: bad message_seen payload: %v", err)
		return
	}
	if p.UserID == r.selfID {
		return
	}
	// The counterpart opened the conversation: everything we sent is
	// now read. Forward-only, so already-read messages are untouched.
	r.store.PatchConversation(p.ConversationID, func(m *model.Message) {
		if m.SenderRole == model.RoleSelf && !m.Pending && !m.Delivery.AtLeast(model.DeliveryRead) {
			m.Delivery = model.DeliveryRead
		}
	})
}

func (r *Reconciler) handleTyping(start bool) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var p protocol.TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
			logger.Errorf("reconcile: bad typing payload: %v", err)
			return
		}
		// Guard against echo of our own emissions.
		if p.UserID == r.selfID {
			return
		}
		r.typing.SetRemote(p.ConversationID, p.UserID, start)
	}
}

func (r *Reconciler) handleOnlineUsers(raw json.RawMessage) {
	var p protocol.OnlineUsersPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// The production backend answers with a bare id array.
		var ids []string
		if err2 := json.Unmarshal(raw, &ids); err2 != nil {
			logger.Errorf("reconcile: bad online_users payload: %v", err)
			return
		}
		p.UserIDs = ids
	}
	r.presence.ApplyBulk(p.UserIDs)
}

func (r *Reconciler) handleUserStatus(raw json.RawMessage) {
	var p protocol.StatusPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		logger.Errorf("reconcile: bad user_status payload: %v", err)
		return
	}
	r.presence.ApplyStatus(p.UserID, p.IsOnline, p.LastSeenAt)
}
