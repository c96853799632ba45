package devserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/repository"
	"github.com/astromatch/chatkit/internal/storage"
)

// Hub owns all websocket connections and the realtime fan-out. REST
// handlers call BroadcastToMatch / SendToUser after their writes commit
// so both participants converge on the same stored state.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	total    int
	maxConns int
	sendBuf  int

	presence  storage.PresenceStore
	userRepo  *repository.UserRepository
	matchRepo *repository.MatchRepository
	msgRepo   *repository.MessageRepository

	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(
	presence storage.PresenceStore,
	userRepo *repository.UserRepository,
	matchRepo *repository.MatchRepository,
	msgRepo *repository.MessageRepository,
	maxConns, sendBuf int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if sendBuf <= 0 {
		sendBuf = 256
	}
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		maxConns:   maxConns,
		sendBuf:    sendBuf,
		presence:   presence,
		userRepo:   userRepo,
		matchRepo:  matchRepo,
		msgRepo:    msgRepo,
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
	for _, c := range all {
		c.wait()
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws presence set online user=%s: %v", c.userID, err)
	}
	if err := h.userRepo.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws presence set offline user=%s: %v", c.userID, err)
		}
		if err := h.userRepo.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastUserStatus(c.userID, false)
	}
}

// HandleFrame dispatches one inbound socket frame.
func (h *Hub) HandleFrame(ctx context.Context, c *client, env protocol.Envelope) {
	switch env.Type {
	case protocol.EventTyping:
		h.handleTyping(ctx, c, env.Payload, protocol.EventUserTyping)
	case protocol.EventStopTyping:
		h.handleTyping(ctx, c, env.Payload, protocol.EventUserStopTyping)
	case protocol.EventSeenMessage:
		h.handleSeen(ctx, c, env.Payload)
	case protocol.EventGetOnlineUsers:
		h.handleGetOnlineUsers(ctx, c)
	default:
		h.sendToClient(c, protocol.Outgoing{
			Type:    protocol.EventError,
			Payload: protocol.ErrorPayload{Message: "unknown event type"},
		})
	}
}

// handleTyping relays typing/stop_typing to the match counterpart as
// user_typing/user_stop_typing. Nothing is persisted.
func (h *Hub) handleTyping(ctx context.Context, c *client, raw json.RawMessage, out protocol.EventType) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	match, err := h.matchRepo.GetByID(ctx, p.ConversationID)
	if err != nil {
		logger.Errorf("ws get match for typing conv=%s: %v", p.ConversationID, err)
		return
	}
	if !match.HasMember(c.userID) {
		h.sendToClient(c, protocol.Outgoing{
			Type:    protocol.EventError,
			Payload: protocol.ErrorPayload{Message: "not a member"},
		})
		return
	}

	h.SendToUser(match.Counterpart(c.userID), protocol.Outgoing{
		Type: out,
		Payload: protocol.TypingPayload{
			ConversationID: p.ConversationID,
			UserID:         c.userID,
		},
	})
}

// handleSeen marks the sender's counterpart messages read and tells the
// counterpart their messages were seen.
func (h *Hub) handleSeen(ctx context.Context, c *client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleSeen", time.Now())()
	var p protocol.SeenPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	match, err := h.matchRepo.GetByID(ctx, p.ConversationID)
	if err != nil {
		logger.Errorf("ws get match for seen conv=%s: %v", p.ConversationID, err)
		return
	}
	if !match.HasMember(c.userID) {
		h.sendToClient(c, protocol.Outgoing{
			Type:    protocol.EventError,
			Payload: protocol.ErrorPayload{Message: "not a member"},
		})
		return
	}

	if err := h.msgRepo.MarkRead(ctx, p.ConversationID, c.userID); err != nil {
		logger.Errorf("ws mark read conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		return
	}

	h.SendToUser(match.Counterpart(c.userID), protocol.Outgoing{
		Type: protocol.EventMessageSeen,
		Payload: protocol.SeenPayload{
			ConversationID: p.ConversationID,
			UserID:         c.userID,
		},
	})
}

// handleGetOnlineUsers answers with the full online set, to the
// requesting connection only.
func (h *Hub) handleGetOnlineUsers(ctx context.Context, c *client) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	users, err := h.presence.OnlineUsers(ctx)
	if err != nil {
		logger.Errorf("ws get online users: %v", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	h.sendToClient(c, protocol.Outgoing{
		Type:    protocol.EventOnlineUsers,
		Payload: protocol.OnlineUsersPayload{UserIDs: users},
	})
}

// broadcastUserStatus pushes user_status to every counterpart of the
// user's matches.
func (h *Hub) broadcastUserStatus(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	matches, err := h.matchRepo.GetUserMatches(ctx, userID)
	if err != nil {
		logger.Errorf("ws get matches for status broadcast user=%s: %v", userID, err)
		return
	}

	payload := protocol.StatusPayload{UserID: userID, IsOnline: online}
	if !online {
		if t, err := h.presence.LastSeen(ctx, userID); err == nil && !t.IsZero() {
			payload.LastSeenAt = &t
		}
	}
	out := protocol.Outgoing{Type: protocol.EventUserStatus, Payload: payload}

	notified := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		uid := m.Counterpart(userID)
		if _, ok := notified[uid]; ok {
			continue
		}
		notified[uid] = struct{}{}
		h.SendToUser(uid, out)
	}
}

// BroadcastToMatch sends a frame to both participants of a match.
func (h *Hub) BroadcastToMatch(ctx context.Context, matchID string, msg protocol.Outgoing) {
	defer logger.DeferLogDuration("ws.BroadcastToMatch", time.Now())()
	match, err := h.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		logger.Errorf("ws broadcast to match %s: %v", matchID, err)
		return
	}
	h.SendToUser(match.User1ID, msg)
	h.SendToUser(match.User2ID, msg)
}

// SendToUser fans a frame out to every live connection of one user.
func (h *Hub) SendToUser(userID string, msg protocol.Outgoing) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *client, msg protocol.Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.close()
	}
}

func (h *Hub) Register(c *client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) Unregister(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
