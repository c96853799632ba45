package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/protocol"
)

// fakeTransport implements Subscriber and Emitter in-process.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[protocol.EventType]func(json.RawMessage)
	reconnect []func()
	emitted   []protocol.Outgoing
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[protocol.EventType]func(json.RawMessage))}
}

func (f *fakeTransport) Subscribe(event protocol.EventType, fn func(json.RawMessage)) {
	f.handlers[event] = fn
}

func (f *fakeTransport) OnReconnect(fn func()) {
	f.reconnect = append(f.reconnect, fn)
}

func (f *fakeTransport) Emit(event protocol.EventType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, protocol.Outgoing{Type: event, Payload: payload})
	return nil
}

func (f *fakeTransport) emissions(event protocol.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e.Type == event {
			n++
		}
	}
	return n
}

// deliver marshals payload and invokes the bound handler, as the read
// loop would.
func (f *fakeTransport) deliver(t *testing.T, event protocol.EventType, payload any) {
	t.Helper()
	fn, ok := f.handlers[event]
	if !ok {
		t.Fatalf("no handler bound for %s", event)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	fn(raw)
}

func newBoundReconciler(t *testing.T, selfID string) (*Reconciler, *Store, *TypingCoordinator, *PresenceTracker, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	store := NewStore()
	typing := NewTypingCoordinator(tr, selfID, 20*time.Millisecond, 40*time.Millisecond)
	presence := NewPresenceTracker()
	rec := NewReconciler(store, typing, presence, selfID)
	rec.Bind(tr, tr)
	return rec, store, typing, presence, tr
}

func wireMsg(id string, sender string, at time.Time) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:             id,
		ConversationID: "conv1",
		SenderID:       sender,
		Kind:           "text",
		Body:           "hi",
		SentAt:         at,
	}
}

func TestNewMessageNormalizesRole(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")

	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "me", base))
	tr.deliver(t, protocol.EventNewMessage, wireMsg("b", "them", base.Add(time.Second)))

	ma, _ := store.Message("a")
	if ma.SenderRole != model.RoleSelf {
		t.Fatalf("own message role = %q, want self", ma.SenderRole)
	}
	mb, _ := store.Message("b")
	if mb.SenderRole != model.RoleCounterpart {
		t.Fatalf("their message role = %q, want counterpart", mb.SenderRole)
	}
}

func TestDuplicateNewMessageIsIdempotent(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")

	p := wireMsg("a", "them", base)
	tr.deliver(t, protocol.EventNewMessage, p)
	tr.deliver(t, protocol.EventNewMessage, p)

	if n := len(store.Messages("conv1")); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestDeliveryMonotonic(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "me", base))

	tr.deliver(t, protocol.EventMessageSeen, protocol.SeenPayload{ConversationID: "conv1", UserID: "them"})
	m, _ := store.Message("a")
	if m.Delivery != model.DeliveryRead {
		t.Fatalf("delivery = %q, want read", m.Delivery)
	}

	// A late message_delivered must not regress read back to delivered.
	tr.deliver(t, protocol.EventMessageDelivered, protocol.DeliveredPayload{MessageID: "a"})
	m, _ = store.Message("a")
	if m.Delivery != model.DeliveryRead {
		t.Fatalf("delivery regressed to %q", m.Delivery)
	}
}

func TestSeenIgnoresOwnReceiptAndPending(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "me", base))
	pending := model.Message{
		ID: "tmp-1", ConversationID: "conv1", SenderRole: model.RoleSelf,
		Kind: model.KindText, Body: "x", SentAt: base.Add(time.Second),
		Delivery: model.DeliverySent, Pending: true,
	}
	store.UpsertMessage("conv1", pending)

	// Our own seen echo changes nothing.
	tr.deliver(t, protocol.EventMessageSeen, protocol.SeenPayload{ConversationID: "conv1", UserID: "me"})
	m, _ := store.Message("a")
	if m.Delivery != model.DeliverySent {
		t.Fatalf("own receipt advanced delivery to %q", m.Delivery)
	}

	tr.deliver(t, protocol.EventMessageSeen, protocol.SeenPayload{ConversationID: "conv1", UserID: "them"})
	p, _ := store.Message("tmp-1")
	if p.Delivery != model.DeliverySent {
		t.Fatalf("pending message advanced to %q", p.Delivery)
	}
}

func TestEditMonotonic(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "them", base))

	newer := base.Add(2 * time.Minute)
	older := base.Add(time.Minute)
	tr.deliver(t, protocol.EventMessageEdited, protocol.MessageEditedPayload{
		MessageID: "a", ConversationID: "conv1", Body: "second edit", EditedAt: newer,
	})
	tr.deliver(t, protocol.EventMessageEdited, protocol.MessageEditedPayload{
		MessageID: "a", ConversationID: "conv1", Body: "first edit", EditedAt: older,
	})

	m, _ := store.Message("a")
	if m.Body != "second edit" {
		t.Fatalf("body = %q, stale edit applied", m.Body)
	}
	if m.EditedAt == nil || !m.EditedAt.Equal(newer) {
		t.Fatalf("editedAt = %v, want %v", m.EditedAt, newer)
	}
}

func TestDeleteIsPermanent(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "them", base))

	del := protocol.MessageDeletedPayload{MessageID: "a", ConversationID: "conv1"}
	tr.deliver(t, protocol.EventMessageDeleted, del)
	tr.deliver(t, protocol.EventMessageDeleted, del) // duplicate

	// A late edit cannot restore content onto the tombstone.
	tr.deliver(t, protocol.EventMessageEdited, protocol.MessageEditedPayload{
		MessageID: "a", ConversationID: "conv1", Body: "resurrect", EditedAt: base.Add(time.Minute),
	})

	m, _ := store.Message("a")
	if !m.Deleted {
		t.Fatal("message not tombstoned")
	}
	if m.Body != "" {
		t.Fatalf("tombstone body = %q, want empty", m.Body)
	}
}

func TestReactionReplacedWholesale(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "them", base))

	tr.deliver(t, protocol.EventMessageReaction, protocol.ReactionPayload{
		MessageID: "a", ConversationID: "conv1",
		Reactions: map[string][]string{"👍": {"me", "them"}},
	})
	tr.deliver(t, protocol.EventMessageReaction, protocol.ReactionPayload{
		MessageID: "a", ConversationID: "conv1",
		Reactions: map[string][]string{"👍": {"them"}},
	})

	m, _ := store.Message("a")
	if len(m.Reactions["👍"]) != 1 || m.Reactions["👍"][0] != "them" {
		t.Fatalf("reactions = %v, want map to be replaced not merged", m.Reactions)
	}
}

func TestTypingSelfEchoFiltered(t *testing.T) {
	_, _, typing, _, tr := newBoundReconciler(t, "me")

	tr.deliver(t, protocol.EventUserTyping, protocol.TypingPayload{ConversationID: "conv1", UserID: "me"})
	if typing.IsCounterpartTyping("conv1") {
		t.Fatal("own typing echo set the counterpart flag")
	}

	tr.deliver(t, protocol.EventUserTyping, protocol.TypingPayload{ConversationID: "conv1", UserID: "them"})
	if !typing.IsCounterpartTyping("conv1") {
		t.Fatal("counterpart typing not tracked")
	}
}

func TestNewMessageClearsTypingFlag(t *testing.T) {
	_, _, typing, _, tr := newBoundReconciler(t, "me")

	tr.deliver(t, protocol.EventUserTyping, protocol.TypingPayload{ConversationID: "conv1", UserID: "them"})
	tr.deliver(t, protocol.EventNewMessage, wireMsg("a", "them", base))

	if typing.IsCounterpartTyping("conv1") {
		t.Fatal("typing flag survived the message arrival")
	}
}

func TestOnlineUsersAcceptsBareArray(t *testing.T) {
	_, _, _, presence, tr := newBoundReconciler(t, "me")

	fn := tr.handlers[protocol.EventOnlineUsers]
	fn(json.RawMessage(`["them","other"]`))

	if !presence.State("them").IsOnline {
		t.Fatal("bare-array online_users not applied")
	}
}

func TestMalformedPayloadsDropped(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")

	for event, raw := range map[protocol.EventType]string{
		protocol.EventNewMessage:       `{"id":""}`,
		protocol.EventMessageEdited:    `not json`,
		protocol.EventMessageDeleted:   `{}`,
		protocol.EventMessageDelivered: `42`,
		protocol.EventMessageSeen:      `{"user_id":"them"}`,
		protocol.EventUserStatus:       `{}`,
	} {
		tr.handlers[event](json.RawMessage(raw))
	}

	if n := len(store.Messages("conv1")); n != 0 {
		t.Fatalf("malformed payloads mutated state: %d messages", n)
	}
}

func TestReconnectRefreshesPresence(t *testing.T) {
	_, _, _, _, tr := newBoundReconciler(t, "me")

	for _, fn := range tr.reconnect {
		fn()
	}
	if tr.emissions(protocol.EventGetOnlineUsers) != 1 {
		t.Fatal("reconnect did not request the online set")
	}
}

func TestTombstonedWireMessageHasNoContent(t *testing.T) {
	_, store, _, _, tr := newBoundReconciler(t, "me")

	p := wireMsg("a", "them", base)
	p.Deleted = true
	p.Body = "leaked"
	tr.deliver(t, protocol.EventNewMessage, p)

	m, _ := store.Message("a")
	if !m.Deleted || m.Body != "" {
		t.Fatalf("tombstoned wire message kept content: %+v", m)
	}
}
