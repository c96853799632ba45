// Package chat implements the client side of the conversation sync
// protocol: the canonical message store, the event reconciler that
// feeds it, presence and typing tracking, and the outbound action
// dispatcher. All state is in-memory and UI-agnostic; the UI renders
// from snapshots and never mutates directly.
package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/model"
)

// Store is the single source of truth for all open conversations.
// Mutations arrive from two places only: the reconciler (server events)
// and the dispatcher (optimistic local actions). Both go through the
// same idempotent entry points, so duplicate or out-of-order delivery
// never corrupts state.
type Store struct {
	mu    sync.RWMutex
	convs map[string][]*model.Message
	// index maps message id -> conversation id; events like
	// message_delivered carry only the id.
	index map[string]string
	// hidden holds delete-for-me ids. Session-scoped: a history
	// re-fetch in this process will not resurrect them, a fresh
	// sign-in will.
	hidden map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		convs:  make(map[string][]*model.Message),
		index:  make(map[string]string),
		hidden: make(map[string]struct{}),
	}
}

// UpsertMessage inserts or replaces a message by id, keeping the
// conversation sorted by (sent_at, id). Idempotent: applying the same
// message twice changes nothing. On replace, the monotonic fields of
// the stored copy win: a tombstone is never undone, delivery state
// never regresses, and a newer edit is never reverted by a stale
// replay. Returns true when the message was newly inserted.
func (s *Store) UpsertMessage(conversationID string, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.convs[conversationID]
	if pos, ok := s.find(msgs, msg.ID); ok {
		existing := msgs[pos]
		merged := msg
		if existing.Deleted {
			merged.Deleted = true
			merged.Body = ""
			merged.MediaRef = ""
		}
		if existing.Delivery.AtLeast(merged.Delivery) {
			merged.Delivery = existing.Delivery
		}
		if existing.EditedAt != nil && (merged.EditedAt == nil || merged.EditedAt.Before(*existing.EditedAt)) {
			merged.EditedAt = existing.EditedAt
			if !merged.Deleted {
				merged.Body = existing.Body
			}
		}
		if merged.SentAt.Equal(existing.SentAt) {
			*existing = merged
			return false
		}
		// Timestamp changed: reposition under the total order.
		s.convs[conversationID] = append(msgs[:pos], msgs[pos+1:]...)
		s.insert(conversationID, &merged)
		return false
	}

	m := msg
	s.insert(conversationID, &m)
	s.index[m.ID] = conversationID
	return true
}

// PatchMessage applies a partial mutation by id. Returns false without
// side effects when the id is unknown — acceptable under at-least-once
// delivery, where a patch event can outrun the message's creation.
func (s *Store) PatchMessage(id string, fn func(*model.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.index[id]
	if !ok {
		return false
	}
	msgs := s.convs[convID]
	pos, ok := s.find(msgs, id)
	if !ok {
		return false
	}
	fn(msgs[pos])
	return true
}

// PatchConversation applies fn to every message in a conversation.
// Used for conversation-scoped events like the counterpart's read
// receipt, which has no per-message id.
func (s *Store) PatchConversation(conversationID string, fn func(*model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.convs[conversationID] {
		fn(m)
	}
}

// ReplaceTemporaryID reconciles an optimistic send with its server
// echo: the entry keeps its slice position (no visual jump), takes the
// final id and the authoritative timestamp, and stops being pending.
// If the realtime echo already inserted the final id, the temporary
// entry is dropped instead, so there is never a duplicate.
func (s *Store) ReplaceTemporaryID(tempID, finalID string, sentAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.index[tempID]
	if !ok {
		return false
	}
	msgs := s.convs[convID]
	pos, ok := s.find(msgs, tempID)
	if !ok {
		return false
	}

	if _, dup := s.index[finalID]; dup {
		s.convs[convID] = append(msgs[:pos], msgs[pos+1:]...)
		delete(s.index, tempID)
		return true
	}

	m := msgs[pos]
	m.ID = finalID
	m.SentAt = sentAt
	m.Pending = false
	delete(s.index, tempID)
	s.index[finalID] = convID
	return true
}

// RemoveMessage deletes an entry outright. Used only for failed
// optimistic sends that the user dismissed; confirmed messages are
// tombstoned in place, never removed.
func (s *Store) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.index[id]
	if !ok {
		return false
	}
	msgs := s.convs[convID]
	pos, ok := s.find(msgs, id)
	if !ok {
		return false
	}
	s.convs[convID] = append(msgs[:pos], msgs[pos+1:]...)
	delete(s.index, id)
	return true
}

// HideForMe records a local-only delete. No network call is made and
// the counterpart is unaffected.
func (s *Store) HideForMe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden[id] = struct{}{}
}

// Message returns a copy of a single message by id.
func (s *Store) Message(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convID, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	msgs := s.convs[convID]
	pos, ok := s.find(msgs, id)
	if !ok {
		return model.Message{}, false
	}
	return snapshot(msgs[pos]), true
}

// Messages returns an ordered snapshot of a conversation, skipping
// messages hidden by delete-for-me. Tombstoned entries come back with
// content and reactions suppressed.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.convs[conversationID]
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, hid := s.hidden[m.ID]; hid {
			continue
		}
		out = append(out, snapshot(m))
	}
	return out
}

// Contains reports whether a message id is known to the store.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// insert places m into its conversation keeping the total order.
// Caller holds the write lock.
func (s *Store) insert(conversationID string, m *model.Message) {
	msgs := s.convs[conversationID]
	pos := sort.Search(len(msgs), func(i int) bool {
		return m.Before(msgs[i])
	})
	msgs = append(msgs, nil)
	copy(msgs[pos+1:], msgs[pos:])
	msgs[pos] = m
	s.convs[conversationID] = msgs
}

// find locates a message by id with a linear scan. Conversations are
// short-lived device-side views; the id index bounds the scan to one
// conversation.
func (s *Store) find(msgs []*model.Message, id string) (int, bool) {
	for i, m := range msgs {
		if m.ID == id {
			return i, true
		}
	}
	return 0, false
}

func snapshot(m *model.Message) model.Message {
	out := *m
	if out.Deleted {
		out.Body = ""
		out.MediaRef = ""
		out.Reactions = nil
	} else if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			out.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}
