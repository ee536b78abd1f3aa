package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/agent"
	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/config"
	"github.com/qwery/backend/internal/protocol"
)

// dialTestWS creates a plain upgrade-only HTTP server and returns both ends
// of one websocket: the server-side conn (for registry registration) and the
// client-side conn (for observing what the server writes). The caller must
// close the returned test server.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

// testEnv is a fully wired session server for end-to-end tests.
type testEnv struct {
	srv      *httptest.Server
	store    *chat.Store
	registry *Registry
	manager  *Manager
}

func newTestEnv(t *testing.T, handler agent.Handler, maxConnsPerChat int) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	store := chat.NewStore(0, 50, time.Hour)
	registry := NewRegistry(maxConnsPerChat, logger)
	manager := NewManager(store, registry, handler, time.Hour, logger)

	cfg := &config.Config{}
	server := NewServer(cfg, store, registry, manager, logger)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, registry: registry, manager: manager}
}

// dialChat opens a client connection to a chat room and consumes nothing:
// callers read the handshake (and replay) themselves.
func (e *testEnv) dialChat(t *testing.T, projectID, chatID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/agent/" + projectID + "/" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s/%s: %v", projectID, chatID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads and decodes the next protocol frame, failing the test on
// timeout.
func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

// expectNoFrame asserts that nothing arrives within the window. The read
// deadline error poisons the connection, so this must be the last read on it.
func expectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(window))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

// sendFrame encodes and writes a protocol frame from the client side.
func sendFrame(t *testing.T, conn *websocket.Conn, m *protocol.Message) {
	t.Helper()

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readHandshake consumes the opening handshake frame.
func readHandshake(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()

	msg := readFrame(t, conn)
	if msg.Kind != protocol.KindHandshake {
		t.Fatalf("first frame kind = %q, want Handshake", msg.Kind)
	}
	return msg
}

// recordingHandler captures the requests it sees and replies with a fixed
// result or error.
type recordingHandler struct {
	mu       sync.Mutex
	requests []agent.Request
	result   *agent.Result
	err      error
}

func (h *recordingHandler) Handle(_ context.Context, req agent.Request) (*agent.Result, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	if h.result != nil {
		return h.result, nil
	}
	return &agent.Result{Summary: "ok"}, nil
}

func (h *recordingHandler) lastRequest(t *testing.T) agent.Request {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.requests) == 0 {
		t.Fatal("handler was never invoked")
	}
	return h.requests[len(h.requests)-1]
}
