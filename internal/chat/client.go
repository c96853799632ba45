package chat

import (
	"context"

	"github.com/astromatch/chatkit/internal/config"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/rest"
	"github.com/astromatch/chatkit/internal/session"
	"github.com/astromatch/chatkit/internal/transport"
)

// Client assembles the whole subsystem for one signed-in identity and
// is the only surface the UI layer sees: a read-only conversation view
// plus the dispatcher's intent methods. Construction wires the
// subscription table once; screens never subscribe or mutate.
type Client struct {
	store      *Store
	presence   *PresenceTracker
	typing     *TypingCoordinator
	dispatcher *Dispatcher
	rest       *rest.Client
	manager    *transport.Manager
	sess       session.Session
}

func NewClient(cfg config.ClientConfig, sess session.Session) *Client {
	store := NewStore()
	presence := NewPresenceTracker()
	manager := transport.NewManager(cfg.SocketURL)
	typing := NewTypingCoordinator(manager, sess.UserID(), cfg.TypingDebounce, cfg.TypingClear)
	rec := NewReconciler(store, typing, presence, sess.UserID())
	restClient := rest.NewClient(cfg.ServerURL, sess, cfg.RequestTimeout)
	dispatcher := NewDispatcher(store, rec, restClient, manager, typing, cfg.EditWindow)

	rec.Bind(manager, manager)

	return &Client{
		store:      store,
		presence:   presence,
		typing:     typing,
		dispatcher: dispatcher,
		rest:       restClient,
		manager:    manager,
		sess:       sess,
	}
}

// Start opens the persistent connection. Idempotent; transport errors
// after this point are recovered by reconnection, never surfaced.
func (c *Client) Start() error {
	return c.manager.Connect(c.sess)
}

// Stop tears down the connection and all listeners. Call on sign-out.
func (c *Client) Stop() {
	c.manager.Disconnect()
}

// Messages returns the ordered, render-ready view of a conversation.
func (c *Client) Messages(conversationID string) []model.Message {
	return c.store.Messages(conversationID)
}

// Presence returns the tracker's view of one participant.
func (c *Client) Presence(userID string) model.PresenceState {
	return c.presence.State(userID)
}

// IsCounterpartTyping reports the remote typing flag.
func (c *Client) IsCounterpartTyping(conversationID string) bool {
	return c.typing.IsCounterpartTyping(conversationID)
}

// InputChanged forwards compose-field changes to the typing
// coordinator.
func (c *Client) InputChanged(conversationID, text string) {
	c.typing.InputChanged(conversationID, text)
}

// CloseConversation cleans up typing state for a closed view. Pending
// sends and messages are untouched; their reconciliation still applies
// if the conversation reopens.
func (c *Client) CloseConversation(conversationID string) {
	c.typing.CloseConversation(conversationID)
}

// Dispatcher exposes the intent methods (send, edit, delete, react,
// mark read, history).
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// Rest exposes the request client for operations outside the
// conversation core (match list, media upload).
func (c *Client) Rest() *rest.Client { return c.rest }

// TrackParticipant seeds the presence tracker with a counterpart from
// the match list, so bulk pulls can transition them offline.
func (c *Client) TrackParticipant(userID string, p model.Participant) {
	c.presence.Track(userID, p.LastSeenAt)
}

// FetchHistory hydrates one conversation.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) error {
	return c.dispatcher.FetchHistory(ctx, conversationID)
}
