package ws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/agent"
	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/history"
	"github.com/qwery/backend/internal/protocol"
)

// previewRowLimit caps how many result rows are echoed into a chat reply.
const previewRowLimit = 5

// Manager orchestrates one chat session per connection: registration,
// handshake and history replay, frame dispatch, prompt-handler calls,
// broadcast of replies, and teardown.
type Manager struct {
	store             *chat.Store
	registry          *Registry
	handler           agent.Handler
	history           history.Store // nil when persistence is not wired in
	heartbeatInterval time.Duration
	log               *zap.Logger
}

func NewManager(store *chat.Store, registry *Registry, handler agent.Handler, heartbeatInterval time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:             store,
		registry:          registry,
		handler:           handler,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// SetHistoryStore wires in the optional persistent message store. Must be
// called before the server starts accepting sessions.
func (m *Manager) SetHistoryStore(hs history.Store) {
	m.history = hs
}

// Run drives one connection from registration through its receive loop to
// teardown. It blocks until the transport disconnects. The socket is always
// closed by the time Run returns.
func (m *Manager) Run(wsConn *websocket.Conn, key chat.Key, rc *agent.RequestContext) {
	state, evicted := m.store.GetOrCreate(key)
	if evicted != nil {
		m.log.Warn("chat evicted for capacity",
			zap.String("project_id", evicted.ProjectID),
			zap.String("chat_id", evicted.ChatID))
		m.registry.CloseKey(*evicted, websocket.CloseGoingAway, "chat evicted")
	}

	c, err := m.registry.Add(key, wsConn)
	if err != nil {
		// Cap exceeded: refuse before the session ever becomes active.
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit reached")
		_ = wsConn.WriteControl(websocket.CloseMessage, msg, deadline)
		wsConn.Close()
		m.log.Warn("connection refused: chat at capacity",
			zap.String("project_id", key.ProjectID),
			zap.String("chat_id", key.ChatID))
		return
	}

	// Persisted history loads after the cap check: a slow history backend
	// must not delay refusing over-cap connections.
	if m.history != nil && len(state.History) == 0 {
		entries, err := m.history.LoadHistory(context.Background(), key.ChatID)
		if err != nil {
			m.log.Error("load persisted history", zap.String("chat_id", key.ChatID), zap.Error(err))
		} else if len(entries) > 0 {
			m.store.SeedHistory(key, entries)
			if st, ok := m.store.Snapshot(key); ok {
				state = st
			}
		}
	}
	hb := startHeartbeat(c, m.heartbeatInterval, m.log)
	c.setHeartbeat(hb)

	c.Send(protocol.NewHandshake(key.ProjectID, key.ChatID, "server", "client"))
	for _, entry := range state.History {
		c.Send(protocol.NewText(protocol.Role(entry.Role), entry.Content, "server", "client"))
	}

	defer func() {
		hb.stop()
		m.registry.Remove(key, c)
		// Chat state stays resident: other connections or a reconnect may
		// still use it. Only the reaper deletes state.
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		m.store.Touch(key)

		msg, err := protocol.Decode(data)
		if err != nil {
			c.Send(protocol.NewError("invalid_message", "Unable to parse protocol message.", nil))
			continue
		}
		m.dispatch(c, key, msg, rc)
	}
}

// dispatch routes one decoded frame. Every error here is converted to an
// Error-kind reply; nothing escapes to kill the receive loop.
func (m *Manager) dispatch(c *Conn, key chat.Key, msg *protocol.Message, rc *agent.RequestContext) {
	variant := msg.Payload.Variant()

	if msg.Kind == protocol.KindHeartbeat || variant == protocol.VariantHeartbeat {
		c.Send(protocol.New(protocol.KindHeartbeat, msg.Payload, "server", "client"))
		return
	}

	if msg.Kind == protocol.KindCommand && msg.Payload.Command != nil {
		m.handleCommand(c, key, msg.Payload.Command)
		return
	}

	if msg.Payload.Message == nil {
		c.Send(protocol.NewError("invalid_payload", "Unsupported message payload.", nil))
		return
	}

	content := msg.Payload.Message
	if content.Role != protocol.RoleUser {
		// Only user-authored content reaches the prompt handler.
		return
	}
	if strings.TrimSpace(content.Content) == "" {
		c.Send(protocol.NewError("invalid_payload", "Empty message content.", nil))
		return
	}

	m.handleUserMessage(c, key, content.Content, rc)
}

func (m *Manager) handleCommand(c *Conn, key chat.Key, cmd *protocol.Command) {
	if cmd.Command != protocol.CommandSet || cmd.Set == nil {
		return
	}

	var confirmation string
	switch {
	case cmd.Set.Key == protocol.SetKeyDatabase || cmd.Set.Key == protocol.SetKeyDatabaseUpper:
		m.store.SetDataSource(key, cmd.Set.Value)
		confirmation = fmt.Sprintf("Database context set to %s", cmd.Set.Value)
	case cmd.Set.Key == protocol.SetKeyDatabaseURL || cmd.Set.Key == protocol.SetKeyDatabaseURLUpper:
		m.store.SetDataSource(key, cmd.Set.Value)
		confirmation = "Database URL updated."
	default:
		// Unrecognized Set keys are silently ignored.
		return
	}

	c.Send(protocol.NewText(protocol.RoleSystem, confirmation, "server", "client"))
}

func (m *Manager) handleUserMessage(c *Conn, key chat.Key, prompt string, rc *agent.RequestContext) {
	state, ok := m.store.Snapshot(key)
	if !ok {
		state, _ = m.store.GetOrCreate(key)
	}

	// The handler runs to completion before this connection's loop sees
	// another frame. Other connections keep their own loops.
	result, err := m.handler.Handle(context.Background(), agent.Request{
		Prompt:     prompt,
		DataSource: state.DataSource,
		History:    state.History,
		Context:    rc,
	})
	if err != nil {
		m.log.Error("prompt handler failed",
			zap.String("project_id", key.ProjectID),
			zap.String("chat_id", key.ChatID),
			zap.Error(err))
		errMsg := protocol.NewError("agent_error", err.Error(), nil)
		c.Send(errMsg)
		m.registry.Broadcast(key, errMsg, c)
		return
	}

	reply := formatReply(result)
	m.store.Append(key, "user", prompt)
	m.store.Append(key, "assistant", reply)
	m.persist(key.ChatID, "user", prompt)
	m.persist(key.ChatID, "assistant", reply)

	m.registry.Broadcast(key, protocol.NewText(protocol.RoleAssistant, reply, "server", "client"), nil)
}

func (m *Manager) persist(chatID, role, content string) {
	if m.history == nil {
		return
	}
	if err := m.history.Append(context.Background(), chatID, role, content); err != nil {
		m.log.Error("persist message", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// formatReply renders a handler result as chat text: summary line, CSV
// pointer, SQL echo, and a bounded preview of the result rows.
func formatReply(res *agent.Result) string {
	var lines []string

	summary := strings.TrimSpace(res.Summary)
	if summary != "" {
		lines = append(lines, summary)
	}

	if res.CSVFilename != "" && (summary == "" || !strings.Contains(summary, res.CSVFilename)) {
		lines = append(lines, fmt.Sprintf("Results saved to %s.", res.CSVFilename))
	}

	if res.SQL != "" {
		lines = append(lines, "", "SQL:", res.SQL)
	}

	if len(res.Columns) > 0 && len(res.PreviewRows) > 0 {
		lines = append(lines, "", "Preview:", strings.Join(res.Columns, ", "))
		rows := res.PreviewRows
		if len(rows) > previewRowLimit {
			rows = rows[:previewRowLimit]
		}
		for _, row := range rows {
			lines = append(lines, strings.Join(row, ", "))
		}
		if res.Truncated {
			lines = append(lines, "... (truncated)")
		}
	}

	if len(lines) == 0 {
		return "Query executed successfully."
	}

	var kept []string
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
