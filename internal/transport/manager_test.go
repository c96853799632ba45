package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/session"
	"github.com/gorilla/websocket"
)

// wsServer is a minimal event-echoing endpoint: it records handshake
// details and lets tests push frames to the connected client.
type wsServer struct {
	t *testing.T

	mu       sync.Mutex
	conns    []*websocket.Conn
	userIDs  []string
	tokens   []string
	received []protocol.Envelope
}

func newWSServer(t *testing.T) (*wsServer, string) {
	t.Helper()
	s := &wsServer{t: t}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.userIDs = append(s.userIDs, r.URL.Query().Get("userId"))
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *wsServer) push(env protocol.Outgoing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		s.t.Fatal("no connection to push to")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(env); err != nil {
		s.t.Fatalf("push: %v", err)
	}
}

func (s *wsServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) receivedOfType(event protocol.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.received {
		if env.Type == event {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConnectHandshakeAndDispatch(t *testing.T) {
	srv, url := newWSServer(t)
	m := NewManager(url)
	defer m.Disconnect()

	var mu sync.Mutex
	var got []string
	m.Subscribe(protocol.EventNewMessage, func(raw json.RawMessage) {
		var p protocol.MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		mu.Lock()
		got = append(got, p.ID)
		mu.Unlock()
	})

	if err := m.Connect(session.NewStatic("me", "tok")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 1 })

	srv.mu.Lock()
	userID, token := srv.userIDs[0], srv.tokens[0]
	srv.mu.Unlock()
	if userID != "me" {
		t.Fatalf("userId query param = %q", userID)
	}
	if token != "Bearer tok" {
		t.Fatalf("Authorization = %q", token)
	}

	srv.push(protocol.Outgoing{Type: protocol.EventNewMessage, Payload: protocol.MessagePayload{ID: "a"}})
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "a"
	})
}

func TestConnectIdempotentPerIdentity(t *testing.T) {
	srv, url := newWSServer(t)
	m := NewManager(url)
	defer m.Disconnect()

	sess := session.NewStatic("me", "tok")
	if err := m.Connect(sess); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 1 })

	// Second connect for the same identity is a no-op.
	if err := m.Connect(sess); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if srv.connections() != 1 {
		t.Fatalf("connections = %d, want 1", srv.connections())
	}

	// A different identity is refused while running.
	if err := m.Connect(session.NewStatic("other", "tok2")); err == nil {
		t.Fatal("connect for another identity succeeded")
	}
}

func TestEmitReachesServer(t *testing.T) {
	srv, url := newWSServer(t)
	m := NewManager(url)
	defer m.Disconnect()

	if err := m.Connect(session.NewStatic("me", "tok")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 1 })

	err := m.Emit(protocol.EventTyping, protocol.TypingPayload{ConversationID: "conv1", UserID: "me"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return srv.receivedOfType(protocol.EventTyping) == 1
	})
}

func TestReconnectHookFiresOnConnect(t *testing.T) {
	srv, url := newWSServer(t)
	m := NewManager(url)
	defer m.Disconnect()

	var mu sync.Mutex
	fired := 0
	m.OnReconnect(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	if err := m.Connect(session.NewStatic("me", "tok")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	})
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	srv, url := newWSServer(t)
	m := NewManager(url)

	m.Subscribe(protocol.EventNewMessage, func(json.RawMessage) {})
	if err := m.Connect(session.NewStatic("me", "tok")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 1 })

	m.Disconnect()

	m.mu.Lock()
	remaining := len(m.handlers)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("handlers after disconnect = %d, want 0", remaining)
	}

	// A fresh identity can connect again.
	if err := m.Connect(session.NewStatic("other", "tok2")); err != nil {
		t.Fatalf("reconnect after disconnect: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return srv.connections() == 2 })
	m.Disconnect()
}
