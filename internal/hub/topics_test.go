package hub

import "testing"

func TestTopicCatalogue(t *testing.T) {
	for _, name := range []string{
		TopicTaskOffer, TopicTaskUpdate, TopicTaskWithdrawn,
		TopicTicket, TopicMatch, TopicEscrow, TopicAsset,
		TopicPlcAlert, TopicDaoEvent, TopicPayout,
		TopicAnalytics, TopicSystem,
	} {
		if !IsValidTopic(name) {
			t.Errorf("IsValidTopic(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"", "task", "task.accepted", "TICKET", "dao"} {
		if IsValidTopic(name) {
			t.Errorf("IsValidTopic(%q) = true, want false", name)
		}
	}
}

func TestDefaultTopicsForRole(t *testing.T) {
	cases := []struct {
		role string
		want []string
	}{
		{RoleEngineer, []string{TopicSystem, TopicTaskOffer, TopicTaskUpdate, TopicTaskWithdrawn, TopicPayout}},
		{RolePlcEngineer, []string{TopicSystem, TopicTaskOffer, TopicTaskUpdate, TopicTaskWithdrawn, TopicPayout}},
		{RoleClientFM, []string{TopicSystem, TopicTaskUpdate, TopicPlcAlert, TopicAsset}},
		{RoleDaoAdmin, []string{TopicSystem, TopicDaoEvent, TopicPayout, TopicPlcAlert, TopicAsset}},
		{"AUDITOR", []string{TopicSystem}},
	}
	for _, tc := range cases {
		got := defaultTopicsForRole(tc.role)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %d default topics, want %d (%v)", tc.role, len(got), len(tc.want), got)
		}
		for _, topic := range tc.want {
			if _, ok := got[topic]; !ok {
				t.Errorf("%s: missing default topic %q", tc.role, topic)
			}
		}
	}
}

func TestRoleMayReceive(t *testing.T) {
	if roleMayReceive(RoleClientFM, TopicTaskOffer, true) {
		t.Error("CLIENT_FM must not receive task.offer")
	}
	if roleMayReceive(RoleEngineer, TopicDaoEvent, true) {
		t.Error("ENGINEER must not receive dao.event")
	}
	if !roleMayReceive(RoleDaoAdmin, TopicDaoEvent, false) {
		t.Error("DAO_ADMIN must receive dao.event")
	}
	if roleMayReceive(RoleEngineer, TopicEscrow, true) {
		t.Error("ENGINEER must not receive escrow")
	}

	// Topics with no policy row fall back to the configured default.
	if !roleMayReceive(RoleEngineer, TopicTicket, true) {
		t.Error("unlisted topic with default allow should pass")
	}
	if roleMayReceive(RoleEngineer, TopicTicket, false) {
		t.Error("unlisted topic with default deny should be blocked")
	}
}
