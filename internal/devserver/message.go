package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/middleware"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// editWindow bounds how long after sending a message may still be
// edited. The client enforces the same bound locally; the server check
// is authoritative.
const editWindow = 15 * time.Minute

type MessageHandler struct {
	msgRepo   *repository.MessageRepository
	matchRepo *repository.MatchRepository
	hub       *Hub
}

func NewMessageHandler(msgRepo *repository.MessageRepository, matchRepo *repository.MatchRepository, hub *Hub) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, matchRepo: matchRepo, hub: hub}
}

// GetMessages returns the conversation history for the caller. As a
// side effect every undelivered inbound message flips to delivered and
// the senders are notified over the socket.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	match, err := h.requireMember(w, r, conversationID, userID)
	if match == nil {
		return
	}

	deliveredIDs, err := h.msgRepo.MarkDelivered(r.Context(), conversationID, userID)
	if err != nil {
		logger.Errorf("mark delivered conv=%s user=%s: %v", conversationID, userID, err)
	}

	messages, err := h.msgRepo.History(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, protocol.HistoryResponse{Messages: messages})

	// Tell the counterpart its messages reached this device.
	for _, id := range deliveredIDs {
		h.hub.SendToUser(match.Counterpart(userID), protocol.Outgoing{
			Type:    protocol.EventMessageDelivered,
			Payload: protocol.DeliveredPayload{MessageID: id},
		})
	}
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.SendMessage", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var req protocol.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id required")
		return
	}
	switch req.Kind {
	case "", "text":
		req.Kind = "text"
		if req.Body == "" {
			writeError(w, http.StatusBadRequest, "body required")
			return
		}
	case "image":
		if req.MediaRef == "" {
			writeError(w, http.StatusBadRequest, "media_ref required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	match, err := h.requireMember(w, r, req.ConversationID, userID)
	if match == nil {
		return
	}
	if !match.IsActive {
		writeError(w, http.StatusForbidden, "match is no longer active")
		return
	}

	msg := &protocol.MessagePayload{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Kind:           req.Kind,
		Body:           req.Body,
		MediaRef:       req.MediaRef,
		SentAt:         time.Now().UTC(),
		ReplyTo:        req.ReplyTo,
	}
	if err = h.msgRepo.Create(r.Context(), msg); err != nil {
		logger.Errorf("save message conv=%s user=%s: %v", req.ConversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	writeJSON(w, http.StatusCreated, protocol.SendMessageResponse{ID: msg.ID, SentAt: msg.SentAt})

	h.hub.BroadcastToMatch(r.Context(), req.ConversationID, protocol.Outgoing{
		Type:    protocol.EventNewMessage,
		Payload: msg,
	})
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.EditMessage", time.Now())()
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req protocol.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body required")
		return
	}

	original, ok := h.ownMessage(w, r, messageID, userID)
	if !ok {
		return
	}
	if original.Deleted {
		writeError(w, http.StatusConflict, "message was deleted")
		return
	}
	now := time.Now().UTC()
	if now.Sub(original.SentAt) > editWindow {
		writeError(w, http.StatusConflict, "edit window closed")
		return
	}

	if err := h.msgRepo.UpdateBody(r.Context(), messageID, req.Body, now); err != nil {
		logger.Errorf("edit message %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to edit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"edited_at": now})

	h.hub.BroadcastToMatch(r.Context(), original.ConversationID, protocol.Outgoing{
		Type: protocol.EventMessageEdited,
		Payload: protocol.MessageEditedPayload{
			MessageID:      messageID,
			ConversationID: original.ConversationID,
			Body:           req.Body,
			EditedAt:       now,
		},
	})
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.DeleteMessage", time.Now())()
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req protocol.DeleteMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.ForEveryone {
		// Delete-for-me is a per-viewer exclusion; the counterpart
		// never learns about it.
		if err := h.msgRepo.DeleteForUser(r.Context(), messageID, userID); err != nil {
			logger.Errorf("delete for user %s msg=%s: %v", userID, messageID, err)
			writeError(w, http.StatusInternalServerError, "failed to delete")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
		return
	}

	original, ok := h.ownMessage(w, r, messageID, userID)
	if !ok {
		return
	}

	if err := h.msgRepo.Tombstone(r.Context(), messageID); err != nil {
		logger.Errorf("delete message %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	h.hub.BroadcastToMatch(r.Context(), original.ConversationID, protocol.Outgoing{
		Type: protocol.EventMessageDeleted,
		Payload: protocol.MessageDeletedPayload{
			MessageID:      messageID,
			ConversationID: original.ConversationID,
		},
	})
}

// ReactMessage toggles the caller's emoji on a message and broadcasts
// the authoritative post-toggle state.
func (h *MessageHandler) ReactMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.ReactMessage", time.Now())()
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req protocol.ReactMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	original, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if match, _ := h.requireMember(w, r, original.ConversationID, userID); match == nil {
		return
	}
	if original.Deleted {
		writeError(w, http.StatusConflict, "message was deleted")
		return
	}

	reactions, err := h.msgRepo.ToggleReaction(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		logger.Errorf("toggle reaction msg=%s user=%s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to react")
		return
	}

	writeJSON(w, http.StatusOK, protocol.ReactMessageResponse{Reactions: reactions})

	h.hub.BroadcastToMatch(r.Context(), original.ConversationID, protocol.Outgoing{
		Type: protocol.EventMessageReaction,
		Payload: protocol.ReactionPayload{
			MessageID:      messageID,
			ConversationID: original.ConversationID,
			Reactions:      reactions,
		},
	})
}

// MarkRead is the REST twin of the seen_message socket emission, for
// clients whose socket is down.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	match, err := h.requireMember(w, r, conversationID, userID)
	if match == nil {
		return
	}

	if err = h.msgRepo.MarkRead(r.Context(), conversationID, userID); err != nil {
		logger.Errorf("mark read conv=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	h.hub.SendToUser(match.Counterpart(userID), protocol.Outgoing{
		Type: protocol.EventMessageSeen,
		Payload: protocol.SeenPayload{
			ConversationID: conversationID,
			UserID:         userID,
		},
	})
}

// requireMember resolves the match and writes the error response itself
// when the caller does not belong to it. A nil return means the
// response is already written.
func (h *MessageHandler) requireMember(w http.ResponseWriter, r *http.Request, matchID, userID string) (*model.Match, error) {
	match, err := h.matchRepo.GetByID(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return nil, err
		}
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return nil, err
	}
	if !match.HasMember(userID) {
		writeError(w, http.StatusForbidden, "not a member")
		return nil, nil
	}
	return match, nil
}

// ownMessage loads a message and verifies the caller sent it.
func (h *MessageHandler) ownMessage(w http.ResponseWriter, r *http.Request, messageID, userID string) (*protocol.MessagePayload, bool) {
	original, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to get message")
		}
		return nil, false
	}
	if original.SenderID != userID {
		writeError(w, http.StatusForbidden, "can only modify own messages")
		return nil, false
	}
	return original, true
}
