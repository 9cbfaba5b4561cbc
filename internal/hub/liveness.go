package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// RunLiveness periodically pings every open connection and evicts the ones
// that have gone quiet. Proxies and load balancers drop idle websockets
// without a close frame, so transport-level close events alone are not
// enough. Blocks until ctx is cancelled.
//
// The supervisor never refreshes lastSeenAt itself; only the far end's next
// message or pong does that. Missing one cycle just delays eviction by one
// interval.
func (h *Hub) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	now := h.now()
	ping, _ := json.Marshal(map[string]any{
		"topic":  TopicSystem,
		"action": "ping",
		"ts":     now.UTC(),
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		if now.Sub(c.lastSeenAt) > h.opts.IdleTimeout {
			h.log.Info("evicting idle widget connection",
				zap.String("conn", id),
				zap.Duration("idle", now.Sub(c.lastSeenAt)))
			_ = c.sender.Close()
			h.removeLocked(id, "idle")
			continue
		}
		// Application-level ping keeps intermediaries from dropping the
		// stream; the protocol-level ping elicits the pong that refreshes
		// lastSeenAt.
		if err := c.sender.Send(ping); err != nil {
			_ = c.sender.Close()
			h.removeLocked(id, "send_error")
			continue
		}
		_ = c.sender.Ping()
	}
}
