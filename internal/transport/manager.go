// Package transport owns the single persistent connection per
// signed-in identity: connect, authenticated handshake, transparent
// reconnection with backoff, subscription dispatch for inbound events,
// and an imperative emit for outbound signaling frames.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/session"
	"github.com/gorilla/websocket"
)

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
	sendBufSize    = 256
)

// ErrNotConnected is returned by Emit while no connection is up and
// the send buffer is full. Signaling frames are droppable; callers
// treat this as a soft failure.
var ErrNotConnected = errors.New("transport: not connected")

// Manager maintains at most one connection at a time. Connect is
// idempotent per identity: a second call while running returns the
// existing connection rather than opening a duplicate (duplicate
// connections would mean duplicate event delivery). Transport errors
// are recovered internally with backoff and never propagate to
// callers.
type Manager struct {
	socketURL string
	dialer    *websocket.Dialer

	mu          sync.Mutex
	sess        session.Session
	handlers    map[protocol.EventType][]func(json.RawMessage)
	reconnectFn []func()
	send        chan protocol.Outgoing
	cancel      context.CancelFunc
	running     bool
	wg          sync.WaitGroup
}

func NewManager(socketURL string) *Manager {
	return &Manager{
		socketURL: socketURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: dialTimeout},
		handlers:  make(map[protocol.EventType][]func(json.RawMessage)),
		send:      make(chan protocol.Outgoing, sendBufSize),
	}
}

// Subscribe registers a handler for one event type. Handlers run on
// the connection's read goroutine, one at a time.
func (m *Manager) Subscribe(event protocol.EventType, fn func(payload json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], fn)
}

// OnReconnect registers a hook invoked after every successful
// (re)connect, including the first. Used for state that does not
// survive a transport gap, like the presence set.
func (m *Manager) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectFn = append(m.reconnectFn, fn)
}

// Connect starts the connection loop for the signed-in identity.
// Idempotent: if already running for this identity it returns
// immediately. A different identity requires Disconnect first.
func (m *Manager) Connect(sess session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		if m.sess != nil && m.sess.UserID() == sess.UserID() {
			return nil
		}
		return errors.New("transport: already connected for another identity; disconnect first")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.sess = sess
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(ctx, sess)
	return nil
}

// Disconnect tears the connection down and removes every registered
// listener, so a stale session can never deliver events into a new
// one. Must be called on sign-out.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.sess = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.handlers = make(map[protocol.EventType][]func(json.RawMessage))
	m.reconnectFn = nil
	m.mu.Unlock()
}

// Emit queues a signaling frame. Non-blocking: when the buffer is full
// (connection down for a while), the frame is dropped with an error —
// typing and seen signals are ephemeral by design and self-heal.
func (m *Manager) Emit(event protocol.EventType, payload any) error {
	select {
	case m.send <- protocol.Outgoing{Type: event, Payload: payload}:
		return nil
	default:
		return ErrNotConnected
	}
}

// run is the connection loop: dial, notify reconnect hooks, pump until
// failure, back off, repeat. Exits only on Disconnect.
func (m *Manager) run(ctx context.Context, sess session.Session) {
	defer m.wg.Done()

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ws, err := m.dial(ctx, sess)
		if err != nil {
			logger.Errorf("transport: dial failed, retry in %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialBackoff
		logger.Infof("transport: connected user=%s", sess.UserID())

		for _, fn := range m.snapshotReconnectFns() {
			fn()
		}

		c := newConn(ws, m.send, m.dispatch)
		c.run(ctx)
		c.close()

		select {
		case <-ctx.Done():
			return
		default:
			logger.Info("transport: connection lost, reconnecting")
		}
	}
}

// dial performs the authenticated handshake: the identity rides as a
// query parameter (the server auto-subscribes the connection to its
// channels) and the bearer credential as a header.
func (m *Manager) dial(ctx context.Context, sess session.Session) (*websocket.Conn, error) {
	u, err := url.Parse(m.socketURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("userId", sess.UserID())
	u.RawQuery = q.Encode()

	header := http.Header{}
	if tok := sess.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, resp, err := m.dialer.DialContext(dctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.mu.Lock()
	fns := append(([]func(json.RawMessage))(nil), m.handlers[env.Type]...)
	m.mu.Unlock()

	if len(fns) == 0 {
		logger.Debugf("transport: no handler for event %q", env.Type)
		return
	}
	for _, fn := range fns {
		fn(env.Payload)
	}
}

func (m *Manager) snapshotReconnectFns() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(([]func())(nil), m.reconnectFn...)
}
