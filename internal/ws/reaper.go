package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/chat"
)

// Reaper periodically evicts chat state that has been idle past the store's
// timeout and force-closes any connections still open on those keys. One
// reaper runs per process, started during service initialization.
type Reaper struct {
	store    *chat.Store
	registry *Registry
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewReaper(store *chat.Store, registry *Registry, interval time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		store:    store,
		registry: registry,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled. Intended for `go reaper.Run(ctx)` from
// main.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes and removes every chat idle past the timeout. Safe to run
// concurrently with message handling: expiry is computed from a locked
// snapshot and each eviction goes through the synchronized store/registry
// operations.
func (r *Reaper) sweep() {
	expired := r.store.Expired(r.now())
	for _, key := range expired {
		conns := r.registry.Count(key)
		r.registry.CloseKey(key, websocket.CloseGoingAway, "chat idle timeout")
		r.store.Remove(key)
		r.log.Info("reaped idle chat",
			zap.String("project_id", key.ProjectID),
			zap.String("chat_id", key.ChatID),
			zap.Int("connections_closed", conns))
	}
}
