package hub

import (
	"encoding/json"
)

// controlMessage is the inbound wire frame, discriminated by Type. Unknown
// or malformed frames are ignored without error: dropping a control message
// from a demo dashboard is cosmetic, and surfacing parse errors to a widget
// buys nothing.
type controlMessage struct {
	Type       string          `json:"type"`
	Role       *string         `json:"role,omitempty"`
	EngineerID *string         `json:"engineerId,omitempty"`
	ClientID   *string         `json:"clientId,omitempty"`
	Topics     []string        `json:"topics,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	Action     string          `json:"action,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// HandleInbound processes one raw frame from a connection. Any inbound
// traffic counts as liveness, so lastSeenAt is refreshed before parsing.
func (h *Hub) HandleInbound(id string, raw []byte) {
	h.Touch(id)

	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "hello":
		h.UpdateIdentity(id, IdentityPatch{
			Role:       msg.Role,
			EngineerID: msg.EngineerID,
			ClientID:   msg.ClientID,
		})
		h.mu.Lock()
		c, ok := h.conns[id]
		var ack []byte
		if ok {
			ack = h.systemFrameLocked(c, "hello_ack")
		}
		h.mu.Unlock()
		if ok {
			h.deliver(c, ack)
		}
		return
	case "subscribe":
		h.Subscribe(id, msg.Topics)
		return
	case "unsubscribe":
		h.Unsubscribe(id, msg.Topics)
		return
	}

	// Client usage events cross from the control plane to the analytics sink,
	// and are re-published internally so live usage widgets update.
	if msg.Topic == TopicAnalytics {
		if h.opts.Analytics != nil {
			role, engineerID, clientID := h.identity(id)
			h.opts.Analytics.ForwardAnalytics(role, engineerID, clientID, msg.Payload)
		}
		h.Publish(Event{Topic: TopicAnalytics, Action: msg.Action, Payload: msg.Payload})
	}
}

func (h *Hub) identity(id string) (role, engineerID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		return c.role, c.engineerID, c.clientID
	}
	return "", "", ""
}
