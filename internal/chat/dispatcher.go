package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/google/uuid"
)

// API is the request/response surface the dispatcher writes through.
// Implemented by rest.Client; faked in tests.
type API interface {
	FetchHistory(ctx context.Context, conversationID string) ([]protocol.MessagePayload, error)
	SendMessage(ctx context.Context, req protocol.SendMessageRequest) (protocol.SendMessageResponse, error)
	EditMessage(ctx context.Context, messageID, body string) error
	DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error
	ReactMessage(ctx context.Context, messageID, emoji string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Content is the user's compose payload: text or an uploaded media
// reference, never both.
type Content struct {
	Kind     model.Kind
	Body     string
	MediaRef string
}

// SendError wraps a failed send and carries the content back so the UI
// can restore the compose field — nothing the user typed is lost.
type SendError struct {
	Content Content
	Err     error
}

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Dispatcher turns user intents into optimistic store mutations plus
// request-client calls. The reconciler later merges the server's echo;
// on request failure the optimistic state is rolled back or flagged,
// never left silently unconfirmed.
type Dispatcher struct {
	store      *Store
	rec        *Reconciler
	api        API
	emitter    Emitter
	typing     *TypingCoordinator
	editWindow time.Duration

	// now is injectable for edit-window tests.
	now func() time.Time
}

func NewDispatcher(store *Store, rec *Reconciler, api API, em Emitter, typing *TypingCoordinator, editWindow time.Duration) *Dispatcher {
	if editWindow <= 0 {
		editWindow = 15 * time.Minute
	}
	return &Dispatcher{
		store:      store,
		rec:        rec,
		api:        api,
		emitter:    em,
		typing:     typing,
		editWindow: editWindow,
		now:        time.Now,
	}
}

// FetchHistory hydrates a conversation over REST, running the result
// through the same normalization and upsert path as realtime events.
func (d *Dispatcher) FetchHistory(ctx context.Context, conversationID string) error {
	payloads, err := d.api.FetchHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	d.rec.IngestHistory(conversationID, payloads)
	return nil
}

// Send inserts an optimistic pending message under a temporary id,
// posts it, and reconciles the temporary id with the server's echo.
// On failure the entry is flagged failed and a SendError carries the
// content back for compose-field restore.
func (d *Dispatcher) Send(ctx context.Context, conversationID string, content Content, replyTo *model.ReplyRef) (string, error) {
	if content.Kind == "" {
		content.Kind = model.KindText
	}

	tempID := "tmp-" + uuid.NewString()
	optimistic := model.Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderRole:     model.RoleSelf,
		Kind:           content.Kind,
		Body:           content.Body,
		MediaRef:       content.MediaRef,
		SentAt:         d.now(),
		Delivery:       model.DeliverySent,
		ReplyTo:        replyTo,
		Pending:        true,
	}
	d.store.UpsertMessage(conversationID, optimistic)

	// Sending ends the local typing run without a separate emission
	// from the UI.
	d.typing.Stop(conversationID)

	req := protocol.SendMessageRequest{
		ConversationID: conversationID,
		Kind:           string(content.Kind),
		Body:           content.Body,
		MediaRef:       content.MediaRef,
	}
	if replyTo != nil {
		req.ReplyTo = &protocol.ReplyPayload{ID: replyTo.ID, Body: replyTo.Body}
	}

	resp, err := d.api.SendMessage(ctx, req)
	if err != nil {
		d.store.PatchMessage(tempID, func(m *model.Message) {
			m.Pending = false
			m.Failed = true
		})
		return "", &SendError{Content: content, Err: err}
	}

	d.store.ReplaceTemporaryID(tempID, resp.ID, resp.SentAt)
	return resp.ID, nil
}

// DiscardFailed removes a failed optimistic send the user dismissed.
func (d *Dispatcher) DiscardFailed(messageID string) {
	if m, ok := d.store.Message(messageID); ok && m.Failed {
		d.store.RemoveMessage(messageID)
	}
}

// CanEdit reports whether a message is still editable: self-sent,
// confirmed, not tombstoned, and within the edit window. Convenience
// check only — the server is the final authority and may still reject.
func (d *Dispatcher) CanEdit(m model.Message) bool {
	return m.SenderRole == model.RoleSelf &&
		!m.Pending && !m.Failed && !m.Tombstoned() &&
		d.now().Sub(m.SentAt) <= d.editWindow
}

// ErrEditWindowClosed is returned when the client-side edit window
// check fails, avoiding a pointless round trip.
var ErrEditWindowClosed = fmt.Errorf("edit window closed")

// Edit applies the new body optimistically and posts the edit. On
// rejection the previous body and edit timestamp are restored.
func (d *Dispatcher) Edit(ctx context.Context, messageID, newBody string) error {
	prev, ok := d.store.Message(messageID)
	if !ok {
		return fmt.Errorf("edit message: unknown id %s", messageID)
	}
	if !d.CanEdit(prev) {
		return ErrEditWindowClosed
	}

	editedAt := d.now()
	d.store.PatchMessage(messageID, func(m *model.Message) {
		m.Body = newBody
		t := editedAt
		m.EditedAt = &t
	})

	if err := d.api.EditMessage(ctx, messageID, newBody); err != nil {
		d.store.PatchMessage(messageID, func(m *model.Message) {
			m.Body = prev.Body
			m.EditedAt = prev.EditedAt
		})
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteForEveryone tombstones the message optimistically and posts
// the delete; the tombstone is rolled back if the server rejects.
// Only valid for self-sent messages.
func (d *Dispatcher) DeleteForEveryone(ctx context.Context, messageID string) error {
	prev, ok := d.store.Message(messageID)
	if !ok {
		return fmt.Errorf("delete message: unknown id %s", messageID)
	}
	if prev.SenderRole != model.RoleSelf {
		return fmt.Errorf("delete message: can only delete own messages for everyone")
	}
	if prev.Tombstoned() {
		return nil
	}

	d.store.PatchMessage(messageID, func(m *model.Message) {
		m.Deleted = true
		m.Body = ""
		m.MediaRef = ""
	})

	if err := d.api.DeleteMessage(ctx, messageID, true); err != nil {
		d.store.PatchMessage(messageID, func(m *model.Message) {
			m.Deleted = false
			m.Body = prev.Body
			m.MediaRef = prev.MediaRef
		})
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteForMe hides the message locally. No network call: the
// counterpart's device is unaffected and the hide lives for the
// session only.
func (d *Dispatcher) DeleteForMe(messageID string) {
	d.store.HideForMe(messageID)
}

// React asserts an emoji choice and waits for the authoritative
// message_reaction event. Deliberately no optimistic guess: whether
// the assert adds or removes the reaction is a server-side decision.
func (d *Dispatcher) React(ctx context.Context, messageID, emoji string) error {
	if err := d.api.ReactMessage(ctx, messageID, emoji); err != nil {
		return fmt.Errorf("react message: %w", err)
	}
	return nil
}

// MarkRead marks the conversation read over REST and signals the
// counterpart's device over the socket.
func (d *Dispatcher) MarkRead(ctx context.Context, conversationID string) error {
	if err := d.api.MarkRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	err := d.emitter.Emit(protocol.EventSeenMessage, protocol.SeenPayload{
		ConversationID: conversationID,
	})
	if err != nil {
		// The REST write already landed; the socket signal is a
		// latency optimization the counterpart recovers via history.
		logger.Debugf("dispatch: seen_message emit: %v", err)
	}
	return nil
}
