package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/protocol"
)

// sendBuffer is the per-connection outbound queue depth. A connection that
// falls this far behind is dropped rather than allowed to stall broadcasts.
const sendBuffer = 64

// Conn is one live websocket subscribed to a chat key. Outbound frames go
// through a buffered channel drained by writePump, so every send is
// non-blocking and independent of other connections.
type Conn struct {
	ws          *websocket.Conn
	key         chat.Key
	reg         *Registry
	log         *zap.Logger
	connectedAt time.Time

	mu     sync.Mutex
	hb     *heartbeat
	send   chan []byte
	closed bool
}

func (c *Conn) setHeartbeat(h *heartbeat) {
	c.mu.Lock()
	c.hb = h
	c.mu.Unlock()
}

func (c *Conn) heartbeatTask() *heartbeat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hb
}

func newConn(ws *websocket.Conn, key chat.Key, reg *Registry, log *zap.Logger) *Conn {
	c := &Conn{
		ws:          ws,
		key:         key,
		reg:         reg,
		log:         log,
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.reg.Remove(c.key, c)
			return
		}
	}
}

// trySend queues a frame without blocking. Returns false when the connection
// is closed or its buffer is full; the caller decides whether that is fatal.
func (c *Conn) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Send encodes and queues a protocol frame. A full buffer drops the
// connection (it can no longer keep up) via registry removal.
func (c *Conn) Send(m *protocol.Message) {
	data, err := m.Encode()
	if err != nil {
		c.log.Error("encode frame", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		c.log.Warn("client too slow, disconnecting",
			zap.String("project_id", c.key.ProjectID),
			zap.String("chat_id", c.key.ChatID))
		c.reg.Remove(c.key, c)
	}
}

// close shuts the send channel exactly once; writePump then closes the
// socket. Safe to call concurrently.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// closeWithCode sends a close control frame before tearing the socket down,
// so the client sees the policy code rather than a bare EOF.
func (c *Conn) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.close()
}
