package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/protocol"
)

// ErrTooManyConnections is returned by Add when a chat key is at its
// connection cap. The caller must close the rejected socket with a policy
// status; nothing is registered for it.
var ErrTooManyConnections = errors.New("too many connections for chat")

// Registry tracks the live connections subscribed to each chat key and
// fans frames out to them. Connection lists are owned exclusively by the
// registry; state is partitioned by key, so unrelated chats never contend
// beyond the registry map itself.
type Registry struct {
	mu        sync.RWMutex
	conns     map[chat.Key][]*Conn
	maxPerKey int
	log       *zap.Logger
}

// NewRegistry builds a registry with a per-key connection cap. Zero means
// unlimited.
func NewRegistry(maxPerKey int, log *zap.Logger) *Registry {
	return &Registry{
		conns:     make(map[chat.Key][]*Conn),
		maxPerKey: maxPerKey,
		log:       log,
	}
}

// Add registers a new connection under key and starts its write pump.
// Returns ErrTooManyConnections when the key is at its cap; the socket is
// left untouched for the caller to refuse.
func (r *Registry) Add(key chat.Key, ws *websocket.Conn) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxPerKey > 0 && len(r.conns[key]) >= r.maxPerKey {
		return nil, ErrTooManyConnections
	}
	c := newConn(ws, key, r, r.log)
	r.conns[key] = append(r.conns[key], c)
	return c, nil
}

// Remove unregisters the connection and closes it. No-op when the
// connection is not registered under key.
func (r *Registry) Remove(key chat.Key, c *Conn) {
	r.mu.Lock()
	list, ok := r.conns[key]
	found := false
	if ok {
		for i, existing := range list {
			if existing == c {
				r.conns[key] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		if len(r.conns[key]) == 0 {
			delete(r.conns, key)
		}
	}
	r.mu.Unlock()

	if found {
		c.close()
	}
}

// Broadcast queues the frame for every connection on key except exclude.
// Each delivery attempt is independent: a dead or slow connection is dropped
// and never blocks or aborts delivery to the rest. Returns the number of
// attempts made.
func (r *Registry) Broadcast(key chat.Key, m *protocol.Message, exclude *Conn) int {
	data, err := m.Encode()
	if err != nil {
		r.log.Error("broadcast encode", zap.Error(err))
		return 0
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns[key]))
	for _, c := range r.conns[key] {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			r.log.Warn("broadcast target dropped",
				zap.String("project_id", key.ProjectID),
				zap.String("chat_id", key.ChatID))
			r.Remove(key, c)
		}
	}
	return len(targets)
}

// CloseKey force-closes every connection on key with the given status code
// and unregisters them. Used by the reaper and by capacity eviction.
func (r *Registry) CloseKey(key chat.Key, code int, reason string) {
	r.mu.RLock()
	targets := append([]*Conn(nil), r.conns[key]...)
	r.mu.RUnlock()

	for _, c := range targets {
		if hb := c.heartbeatTask(); hb != nil {
			hb.stop()
		}
		c.closeWithCode(code, reason)
		r.Remove(key, c)
	}
}

// Count reports the number of live connections on key.
func (r *Registry) Count(key chat.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[key])
}

// OldestConnected reports when the longest-lived connection on key was
// established. ok is false when the key has no connections.
func (r *Registry) OldestConnected(key chat.Key) (oldest time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns[key] {
		if !ok || c.connectedAt.Before(oldest) {
			oldest, ok = c.connectedAt, true
		}
	}
	return oldest, ok
}

// Counts returns a per-key connection tally for the listing endpoint.
func (r *Registry) Counts() map[chat.Key]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[chat.Key]int, len(r.conns))
	for k, list := range r.conns {
		out[k] = len(list)
	}
	return out
}
