package hub

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Recipients narrows delivery to specific roles or identity values, layered
// on top of topic subscription and the role policy gate.
type Recipients struct {
	Roles       []string `json:"roles,omitempty"`
	EngineerIDs []string `json:"engineerIds,omitempty"`
	ClientIDs   []string `json:"clientIds,omitempty"`
}

// Event is one outbound notification. Payload is forwarded verbatim; the hub
// never looks inside it.
type Event struct {
	Topic      string      `json:"topic"`
	Action     string      `json:"action,omitempty"`
	Payload    any         `json:"payload,omitempty"`
	Recipients *Recipients `json:"recipients,omitempty"`
	TS         time.Time   `json:"ts"`
}

// Publish fans one event out to every connection that is subscribed to its
// topic, passes the role policy gate, and matches the optional recipients
// filter. Fire and forget: invalid topics are dropped, send failures evict
// the failing connection, and the caller is never told about either.
func (h *Hub) Publish(ev Event) {
	if !IsValidTopic(ev.Topic) {
		h.metrics.dropped.WithLabelValues("unknown_topic").Inc()
		h.log.Debug("publish dropped, unknown topic", zap.String("topic", ev.Topic))
		return
	}
	if ev.TS.IsZero() {
		ev.TS = h.now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		h.metrics.dropped.WithLabelValues("marshal").Inc()
		return
	}
	h.metrics.published.WithLabelValues(ev.Topic).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		if _, subscribed := c.topics[ev.Topic]; !subscribed {
			continue
		}
		if !roleMayReceive(c.role, ev.Topic, h.opts.PolicyDefaultAllow) {
			continue
		}
		if !recipientsMatch(c, ev.Recipients) {
			continue
		}
		h.sendLocked(c, raw)
	}
}

// OfferToEngineer delivers a task offer to exactly the connections holding
// this engineer identity, via the engineer index instead of a full scan.
func (h *Hub) OfferToEngineer(engineerID string, payload any) {
	h.publishToIndex(h.lookupEngineers(engineerID), Event{
		Topic:   TopicTaskOffer,
		Action:  "offer",
		Payload: payload,
	})
}

// UpdateForParties notifies the assigned engineer and/or the client dashboard
// about a task update. Either identity may be empty.
func (h *Hub) UpdateForParties(engineerID, clientID string, payload any) {
	ev := Event{Topic: TopicTaskUpdate, Action: "update", Payload: payload}
	if engineerID != "" {
		h.publishToIndex(h.lookupEngineers(engineerID), ev)
	}
	if clientID != "" {
		h.publishToIndex(h.lookupClients(clientID), ev)
	}
}

// WithdrawFromEngineers tells a finite set of offer-holders that the offer is
// gone, typically after one of them accepted.
func (h *Hub) WithdrawFromEngineers(engineerIDs []string, payload any) {
	ev := Event{Topic: TopicTaskWithdrawn, Action: "withdrawn", Payload: payload}
	for _, id := range engineerIDs {
		h.publishToIndex(h.lookupEngineers(id), ev)
	}
}

// BroadcastAsset publishes an asset created/updated event to all roles.
func (h *Hub) BroadcastAsset(payload any) {
	h.Publish(Event{Topic: TopicAsset, Action: "updated", Payload: payload})
}

// BroadcastPlcAlert publishes a PLC alert to every subscribed dashboard.
func (h *Hub) BroadcastPlcAlert(payload any) {
	h.Publish(Event{Topic: TopicPlcAlert, Action: "alert", Payload: payload})
}

// BroadcastDaoEvent publishes a governance event; the role policy restricts
// it to DAO admins regardless of who subscribed.
func (h *Hub) BroadcastDaoEvent(payload any) {
	h.Publish(Event{Topic: TopicDaoEvent, Action: "event", Payload: payload})
}

// BroadcastPayout sends a payout update to subscribed DAO admins and, when an
// engineer id is given, to that engineer's connections via the index.
func (h *Hub) BroadcastPayout(payload any, engineerID string) {
	h.Publish(Event{
		Topic:      TopicPayout,
		Action:     "payout",
		Payload:    payload,
		Recipients: &Recipients{Roles: []string{RoleDaoAdmin}},
	})
	if engineerID != "" {
		h.publishToIndex(h.lookupEngineers(engineerID), Event{
			Topic:   TopicPayout,
			Action:  "payout",
			Payload: payload,
		})
	}
}

// publishToIndex is the targeted-delivery shortcut: same topic-interest and
// role-policy gates as Publish, applied to a pre-resolved candidate set.
func (h *Hub) publishToIndex(targets []*conn, ev Event) {
	if len(targets) == 0 || !IsValidTopic(ev.Topic) {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = h.now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		h.metrics.dropped.WithLabelValues("marshal").Inc()
		return
	}
	h.metrics.published.WithLabelValues(ev.Topic).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range targets {
		if _, still := h.conns[c.id]; !still {
			continue
		}
		if _, subscribed := c.topics[ev.Topic]; !subscribed {
			continue
		}
		if !roleMayReceive(c.role, ev.Topic, h.opts.PolicyDefaultAllow) {
			continue
		}
		h.sendLocked(c, raw)
	}
}

// lookupEngineers snapshots an engineer-index bucket.
func (h *Hub) lookupEngineers(engineerID string) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := h.byEngineer[engineerID]
	out := make([]*conn, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

func (h *Hub) lookupClients(clientID string) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := h.byClient[clientID]
	out := make([]*conn, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

// sendLocked pushes a serialised frame to one connection, evicting it on
// transport failure. Caller holds h.mu.
func (h *Hub) sendLocked(c *conn, raw []byte) {
	if err := c.sender.Send(raw); err != nil {
		_ = c.sender.Close()
		h.removeLocked(c.id, "send_error")
		return
	}
	h.metrics.delivered.Inc()
}

func recipientsMatch(c *conn, r *Recipients) bool {
	if r == nil {
		return true
	}
	if len(r.Roles) > 0 && !contains(r.Roles, c.role) {
		return false
	}
	if len(r.EngineerIDs) > 0 {
		if c.engineerID == "" || !contains(r.EngineerIDs, c.engineerID) {
			return false
		}
	}
	if len(r.ClientIDs) > 0 {
		if c.clientID == "" || !contains(r.ClientIDs, c.clientID) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
