package chat

import (
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
)

// TypingCoordinator owns both directions of typing signaling.
//
// Outbound: every non-empty input change emits typing and (re)arms a
// debounce timer that emits stop_typing after the inactivity window;
// clearing the input emits stop_typing immediately. Inbound: a remote
// flag per conversation, cleared by user_stop_typing, by an arriving
// message, or by an auto-clear timeout (a dropped stop_typing must not
// freeze the indicator). Nothing here is persisted or retried — the
// whole state is ephemeral and self-heals on reconnect.
type TypingCoordinator struct {
	mu       sync.Mutex
	emitter  Emitter
	selfID   string
	debounce time.Duration
	clear    time.Duration

	active map[string]*time.Timer // conversations with a local typing run
	remote map[string]*remoteTyping
}

type remoteTyping struct {
	typing bool
	timer  *time.Timer
}

func NewTypingCoordinator(em Emitter, selfID string, debounce, clear time.Duration) *TypingCoordinator {
	if debounce <= 0 {
		debounce = time.Second
	}
	if clear <= 0 {
		clear = 5 * time.Second
	}
	return &TypingCoordinator{
		emitter:  em,
		selfID:   selfID,
		debounce: debounce,
		clear:    clear,
		active:   make(map[string]*time.Timer),
		remote:   make(map[string]*remoteTyping),
	}
}

// InputChanged reports the compose field's current content. Best
// effort: emit failures are logged, never surfaced — typing is the
// lowest-stakes signal in the protocol.
func (c *TypingCoordinator) InputChanged(conversationID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if text == "" {
		c.stopLocked(conversationID)
		return
	}

	c.emit(protocol.EventTyping, conversationID)
	if t, ok := c.active[conversationID]; ok {
		t.Reset(c.debounce)
		return
	}
	c.active[conversationID] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopLocked(conversationID)
	})
}

// Stop ends the local typing run immediately, emitting stop_typing if
// one was in flight. Called when a message is sent or the conversation
// view closes.
func (c *TypingCoordinator) Stop(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(conversationID)
}

func (c *TypingCoordinator) stopLocked(conversationID string) {
	t, ok := c.active[conversationID]
	if !ok {
		return
	}
	t.Stop()
	delete(c.active, conversationID)
	c.emit(protocol.EventStopTyping, conversationID)
}

// SetRemote updates the counterpart-typing flag for a conversation.
// Events naming the local identity are ignored (echo guard).
func (c *TypingCoordinator) SetRemote(conversationID, userID string, typing bool) {
	if userID == c.selfID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.remote[conversationID]
	if !ok {
		if !typing {
			return
		}
		r = &remoteTyping{}
		c.remote[conversationID] = r
	}

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.typing = typing
	if typing {
		r.timer = time.AfterFunc(c.clear, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.remote[conversationID]; ok {
				cur.typing = false
				cur.timer = nil
			}
		})
	}
}

// IsCounterpartTyping reports the remote flag for a conversation.
func (c *TypingCoordinator) IsCounterpartTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.remote[conversationID]
	return ok && r.typing
}

// CloseConversation cancels timers for a closed view and emits a final
// stop_typing if a run was active.
func (c *TypingCoordinator) CloseConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(conversationID)
	if r, ok := c.remote[conversationID]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(c.remote, conversationID)
	}
}

func (c *TypingCoordinator) emit(event protocol.EventType, conversationID string) {
	err := c.emitter.Emit(event, protocol.TypingPayload{
		ConversationID: conversationID,
		UserID:         c.selfID,
	})
	if err != nil {
		logger.Debugf("typing: emit %s: %v", event, err)
	}
}
