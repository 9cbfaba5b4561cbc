package hub

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Register adds a connection and sends its welcome frame. Registration never
// rejects: unknown or missing roles fall back to engineer defaults so a demo
// dashboard always comes up. Returns the assigned connection id, or "" when
// the hub is already shut down.
func (h *Hub) Register(s Sender, ident Identity) string {
	role := normaliseRole(ident.Role)
	now := h.now()

	c := &conn{
		id:          uuid.NewString(),
		sender:      s,
		role:        role,
		engineerID:  strings.TrimSpace(ident.EngineerID),
		clientID:    strings.TrimSpace(ident.ClientID),
		topics:      defaultTopicsForRole(role),
		connectedAt: now,
		lastSeenAt:  now,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ""
	}
	h.conns[c.id] = c
	h.indexLocked(c)
	h.metrics.connections.WithLabelValues(c.role).Inc()
	welcome := h.systemFrameLocked(c, "welcome")
	h.mu.Unlock()

	if err := s.Send(welcome); err != nil {
		h.Remove(c.id)
		return ""
	}
	h.log.Info("widget connected",
		zap.String("conn", c.id),
		zap.String("role", c.role),
		zap.String("engineerId", c.engineerID),
		zap.String("clientId", c.clientID))
	return c.id
}

// IdentityPatch mutates role/identity in place. Nil fields are left alone;
// pointers distinguish "absent" from "clear", mirroring the hello frame.
type IdentityPatch struct {
	Role       *string
	EngineerID *string
	ClientID   *string
}

// UpdateIdentity applies a patch and re-indexes the connection. Used for
// mid-session role switching in the demo tooling, and by the query-string
// path on connect; both call sites share this one operation.
func (h *Hub) UpdateIdentity(id string, patch IdentityPatch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return
	}
	h.unindexLocked(c)
	if patch.Role != nil && strings.TrimSpace(*patch.Role) != "" {
		h.metrics.connections.WithLabelValues(c.role).Dec()
		c.role = normaliseRole(*patch.Role)
		h.metrics.connections.WithLabelValues(c.role).Inc()
	}
	if patch.EngineerID != nil {
		c.engineerID = strings.TrimSpace(*patch.EngineerID)
	}
	if patch.ClientID != nil {
		c.clientID = strings.TrimSpace(*patch.ClientID)
	}
	h.indexLocked(c)
}

// Subscribe adds topics to the connection's set. Names outside the catalogue
// are no-ops, not failures. The resulting set is acked to the connection.
func (h *Hub) Subscribe(id string, topics []string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, t := range topics {
		if IsValidTopic(t) {
			c.topics[t] = struct{}{}
		}
	}
	frame := h.systemFrameLocked(c, "subscribed")
	h.mu.Unlock()
	h.deliver(c, frame)
}

// Unsubscribe removes topics from the connection's set. It never leaves the
// set empty: the system topic is reinstated if a removal would.
func (h *Hub) Unsubscribe(id string, topics []string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, t := range topics {
		delete(c.topics, t)
	}
	if len(c.topics) == 0 {
		c.topics[TopicSystem] = struct{}{}
	}
	frame := h.systemFrameLocked(c, "unsubscribed")
	h.mu.Unlock()
	h.deliver(c, frame)
}

// Remove deletes the connection and drops it from both indices. Idempotent.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id, "closed")
}

// Touch refreshes lastSeenAt; called on every inbound message and pong.
func (h *Hub) Touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		c.lastSeenAt = h.now()
	}
}

func (h *Hub) removeLocked(id, reason string) {
	c, ok := h.conns[id]
	if !ok {
		return
	}
	delete(h.conns, id)
	h.unindexLocked(c)
	h.metrics.connections.WithLabelValues(c.role).Dec()
	if reason != "closed" {
		h.metrics.evicted.WithLabelValues(reason).Inc()
	}
}

// The indices are derived structures, never authoritative: a connection sits
// in a bucket iff the matching identity field is non-empty.
func (h *Hub) indexLocked(c *conn) {
	if c.engineerID != "" {
		bucket := h.byEngineer[c.engineerID]
		if bucket == nil {
			bucket = make(map[string]*conn)
			h.byEngineer[c.engineerID] = bucket
		}
		bucket[c.id] = c
	}
	if c.clientID != "" {
		bucket := h.byClient[c.clientID]
		if bucket == nil {
			bucket = make(map[string]*conn)
			h.byClient[c.clientID] = bucket
		}
		bucket[c.id] = c
	}
}

func (h *Hub) unindexLocked(c *conn) {
	if c.engineerID != "" {
		if bucket := h.byEngineer[c.engineerID]; bucket != nil {
			delete(bucket, c.id)
			if len(bucket) == 0 {
				delete(h.byEngineer, c.engineerID)
			}
		}
	}
	if c.clientID != "" {
		if bucket := h.byClient[c.clientID]; bucket != nil {
			delete(bucket, c.id)
			if len(bucket) == 0 {
				delete(h.byClient, c.clientID)
			}
		}
	}
}

// deliver sends one pre-serialised frame, evicting the connection if the
// transport refuses it.
func (h *Hub) deliver(c *conn, frame []byte) {
	if err := c.sender.Send(frame); err != nil {
		_ = c.sender.Close()
		h.mu.Lock()
		h.removeLocked(c.id, "send_error")
		h.mu.Unlock()
		return
	}
	h.metrics.delivered.Inc()
}

// systemFrameLocked builds a control-plane ack addressed to c.
func (h *Hub) systemFrameLocked(c *conn, action string) []byte {
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	frame := map[string]any{
		"topic":  TopicSystem,
		"action": action,
		"ts":     h.now().UTC(),
	}
	switch action {
	case "welcome":
		frame["connectionId"] = c.id
		frame["role"] = c.role
		frame["engineerId"] = c.engineerID
		frame["clientId"] = c.clientID
		frame["topics"] = topics
	case "hello_ack":
		frame["role"] = c.role
		frame["engineerId"] = c.engineerID
		frame["clientId"] = c.clientID
	case "subscribed", "unsubscribed":
		frame["topics"] = topics
	}
	b, _ := json.Marshal(frame)
	return b
}

func normaliseRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return RoleEngineer
	}
	return role
}
