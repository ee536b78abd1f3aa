package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qwery/backend/internal/protocol"
)

// heartbeat emits keep-alive frames on one connection at a fixed interval.
// It runs on its own goroutine and never blocks protocol processing. A
// failed emit means the transport is gone; the task logs and exits without
// touching the registry (the receive loop owns teardown).
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startHeartbeat(c *Conn, interval time.Duration, log *zap.Logger) *heartbeat {
	ctx, cancel := context.WithCancel(context.Background())
	h := &heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(ctx, c, interval, log)
	return h
}

func (h *heartbeat) run(ctx context.Context, c *Conn, interval time.Duration, log *zap.Logger) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := protocol.NewHeartbeat("server", "client").Encode()
			if err != nil {
				log.Error("encode heartbeat", zap.Error(err))
				return
			}
			if !c.trySend(frame) {
				log.Debug("heartbeat send failed, stopping",
					zap.String("chat_id", c.key.ChatID))
				return
			}
		}
	}
}

// stop cancels the emitter and waits for it to exit, so no stray heartbeat
// can race with connection teardown.
func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}
