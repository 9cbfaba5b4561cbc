package hub

import (
	"testing"
	"time"
)

func TestRegisterSendsWelcomeWithDefaults(t *testing.T) {
	h := newTestHub(t)
	s, _ := register(t, h, Identity{Role: "ENGINEER", EngineerID: "eng_1"})

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	frames := s.decoded(t)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want welcome only", len(frames))
	}
	w := frames[0]
	if w["topic"] != TopicSystem || w["action"] != "welcome" {
		t.Fatalf("unexpected welcome frame: %v", w)
	}
	if w["role"] != RoleEngineer || w["engineerId"] != "eng_1" {
		t.Errorf("welcome identity wrong: %v", w)
	}
	if w["connectionId"] == "" || w["connectionId"] == nil {
		t.Error("welcome missing connectionId")
	}
	topics, ok := w["topics"].([]any)
	if !ok {
		t.Fatalf("welcome topics missing: %v", w)
	}
	want := map[string]bool{TopicTaskOffer: false, TopicTaskUpdate: false, TopicTaskWithdrawn: false, TopicPayout: false, TopicSystem: false}
	for _, raw := range topics {
		if name, ok := raw.(string); ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("engineer default topics missing %q", name)
		}
	}
}

func TestRegisterNormalisesRole(t *testing.T) {
	h := newTestHub(t)

	s, _ := register(t, h, Identity{Role: ""})
	if got := s.decoded(t)[0]["role"]; got != RoleEngineer {
		t.Errorf("empty role defaulted to %v, want ENGINEER", got)
	}

	s2, _ := register(t, h, Identity{Role: "client_fm", ClientID: "cl_9"})
	if got := s2.decoded(t)[0]["role"]; got != RoleClientFM {
		t.Errorf("lowercase role normalised to %v, want CLIENT_FM", got)
	}

	// Unknown roles are accepted and land with system-only subscriptions.
	s3, _ := register(t, h, Identity{Role: "AUDITOR"})
	topics := s3.decoded(t)[0]["topics"].([]any)
	if len(topics) != 1 || topics[0] != TopicSystem {
		t.Errorf("unknown role topics = %v, want [system]", topics)
	}
}

func TestRegisterAfterCloseRefused(t *testing.T) {
	h := New(Options{PolicyDefaultAllow: true})
	h.Close()
	if id := h.Register(&fakeSender{}, Identity{}); id != "" {
		t.Errorf("Register on closed hub returned %q, want empty", id)
	}
}

func TestRegisterWelcomeFailureDropsConnection(t *testing.T) {
	h := newTestHub(t)
	s := &fakeSender{failSend: true}
	if id := h.Register(s, Identity{EngineerID: "eng_1"}); id != "" {
		t.Errorf("Register with broken transport returned %q, want empty", id)
	}
	if h.Len() != 0 {
		t.Errorf("broken connection still registered, Len() = %d", h.Len())
	}
}

func TestUpdateIdentityReindexes(t *testing.T) {
	h := newTestHub(t)
	s, id := register(t, h, Identity{Role: "ENGINEER", EngineerID: "eng_1"})

	newEng := "eng_2"
	newRole := "DAO_ADMIN"
	h.UpdateIdentity(id, IdentityPatch{Role: &newRole, EngineerID: &newEng})

	h.OfferToEngineer("eng_1", map[string]string{"id": "t1"})
	if got := len(s.framesFor(t, TopicTaskOffer)); got != 0 {
		t.Fatalf("old engineer id still indexed, got %d offers", got)
	}

	// DAO_ADMIN keeps the engineer default topics from registration time, and
	// task.offer passes the policy for DAO_ADMIN, so the new id receives.
	h.OfferToEngineer("eng_2", map[string]string{"id": "t2"})
	if got := len(s.framesFor(t, TopicTaskOffer)); got != 1 {
		t.Fatalf("reindexed engineer id got %d offers, want 1", got)
	}

	snap := h.Snapshot()
	if snap.ByRole[RoleDaoAdmin] != 1 || snap.ByRole[RoleEngineer] != 0 {
		t.Errorf("role not updated in snapshot: %v", snap.ByRole)
	}
}

func TestUpdateIdentityClearsWithEmptyPointer(t *testing.T) {
	h := newTestHub(t)
	_, id := register(t, h, Identity{Role: "ENGINEER", EngineerID: "eng_1"})

	empty := ""
	h.UpdateIdentity(id, IdentityPatch{EngineerID: &empty})

	snap := h.Snapshot()
	if snap.Engineers != 0 {
		t.Errorf("cleared engineer id still indexed: %d buckets", snap.Engineers)
	}
}

func TestSubscribeUnknownTopicIgnored(t *testing.T) {
	h := newTestHub(t)
	s, id := register(t, h, Identity{Role: "CLIENT_FM", ClientID: "cl_1"})

	h.Subscribe(id, []string{TopicEscrow, "task.accepted", "bogus"})

	acks := s.framesFor(t, TopicSystem)
	ack := acks[len(acks)-1]
	if ack["action"] != "subscribed" {
		t.Fatalf("expected subscribed ack, got %v", ack)
	}
	topics := ack["topics"].([]any)
	for _, raw := range topics {
		if raw == "task.accepted" || raw == "bogus" {
			t.Errorf("unknown topic leaked into subscriptions: %v", topics)
		}
	}
	found := false
	for _, raw := range topics {
		if raw == TopicEscrow {
			found = true
		}
	}
	if !found {
		t.Errorf("escrow not added: %v", topics)
	}
}

func TestUnsubscribeNeverLeavesEmptySet(t *testing.T) {
	h := newTestHub(t)
	s, id := register(t, h, Identity{Role: "AUDITOR"})

	h.Unsubscribe(id, []string{TopicSystem})

	acks := s.framesFor(t, TopicSystem)
	ack := acks[len(acks)-1]
	if ack["action"] != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %v", ack)
	}
	topics := ack["topics"].([]any)
	if len(topics) != 1 || topics[0] != TopicSystem {
		t.Errorf("subscription set after full unsubscribe = %v, want [system]", topics)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	h := newTestHub(t)
	_, id := register(t, h, Identity{EngineerID: "eng_1"})

	h.Remove(id)
	h.Remove(id)
	h.Remove("no-such-conn")

	if h.Len() != 0 {
		t.Errorf("Len() = %d after remove, want 0", h.Len())
	}
	if snap := h.Snapshot(); snap.Engineers != 0 {
		t.Errorf("engineer index not cleaned: %d", snap.Engineers)
	}
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	h := newTestHub(t)
	_, id := register(t, h, Identity{})

	advance(h, 90*time.Second)
	h.Touch(id)

	h.mu.Lock()
	c := h.conns[id]
	last := c.lastSeenAt
	connected := c.connectedAt
	h.mu.Unlock()

	if !last.After(connected) {
		t.Errorf("lastSeenAt %v not advanced past connectedAt %v", last, connected)
	}
}
