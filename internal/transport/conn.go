package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// bufPool pools bytes.Buffer for JSON encoding in the write pump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// conn is one live websocket connection. The manager creates a fresh
// conn per (re)connect attempt; run blocks until either pump fails.
type conn struct {
	ws      *websocket.Conn
	send    <-chan protocol.Outgoing
	onFrame func(protocol.Envelope)

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func newConn(ws *websocket.Conn, send <-chan protocol.Outgoing, onFrame func(protocol.Envelope)) *conn {
	return &conn{ws: ws, send: send, onFrame: onFrame, done: make(chan struct{})}
}

// run launches both pumps and blocks until the connection dies or ctx
// is cancelled.
func (c *conn) run(ctx context.Context) {
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
	c.wg.Wait()
}

// close forces both pumps to unblock. Safe to call multiple times.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readPump reads frames and hands them to the dispatch callback. All
// inbound handling runs on this single goroutine, so store mutations
// are never concurrent with each other.
func (c *conn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("transport: set read deadline: %v", err)
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("transport: read: %v", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("transport: unmarshal frame: %v", err)
			continue
		}
		c.onFrame(env)
	}
}

// writePump drains the send channel and keeps the connection alive
// with pings.
func (c *conn) writePump(ctx context.Context) {
	defer c.wg.Done()
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.ws.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("transport: close message: %v", err)
			}
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("transport: set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("transport: marshal frame: %v", err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for websocket text frames.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.ws.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
