package hub

// Topic names published by the dispatch controllers. The catalogue is fixed
// for the process lifetime; subscribe requests for names outside it are
// silently ignored.
const (
	TopicTaskOffer     = "task.offer"
	TopicTaskUpdate    = "task.update"
	TopicTaskWithdrawn = "task.withdrawn"
	TopicTicket        = "ticket"
	TopicMatch         = "match"
	TopicEscrow        = "escrow"
	TopicAsset         = "asset"
	TopicPlcAlert      = "plcAlert"
	TopicDaoEvent      = "dao.event"
	TopicPayout        = "payout"
	TopicAnalytics     = "analytics"
	TopicSystem        = "system"
)

// Connection roles. Unknown roles are accepted at registration and default
// to system-only subscriptions.
const (
	RoleEngineer    = "ENGINEER"
	RolePlcEngineer = "PLC_ENGINEER"
	RoleClientFM    = "CLIENT_FM"
	RoleDaoAdmin    = "DAO_ADMIN"
)

var topicCatalogue = map[string]struct{}{
	TopicTaskOffer:     {},
	TopicTaskUpdate:    {},
	TopicTaskWithdrawn: {},
	TopicTicket:        {},
	TopicMatch:         {},
	TopicEscrow:        {},
	TopicAsset:         {},
	TopicPlcAlert:      {},
	TopicDaoEvent:      {},
	TopicPayout:        {},
	TopicAnalytics:     {},
	TopicSystem:        {},
}

// rolePolicy is the allow-list consulted at fan-out time. Topics absent from
// the table fall back to Options.PolicyDefaultAllow; ticket, match, analytics
// and system are deliberately unlisted so demo/ops topics keep working
// without exhaustive configuration.
var rolePolicy = map[string][]string{
	TopicTaskOffer:     {RoleEngineer, RolePlcEngineer, RoleDaoAdmin},
	TopicTaskUpdate:    {RoleEngineer, RolePlcEngineer, RoleClientFM, RoleDaoAdmin},
	TopicTaskWithdrawn: {RoleEngineer, RolePlcEngineer, RoleDaoAdmin},
	TopicAsset:         {RoleEngineer, RolePlcEngineer, RoleClientFM, RoleDaoAdmin},
	TopicPlcAlert:      {RoleEngineer, RolePlcEngineer, RoleClientFM, RoleDaoAdmin},
	TopicDaoEvent:      {RoleDaoAdmin},
	TopicEscrow:        {RoleClientFM, RoleDaoAdmin},
	TopicPayout:        {RoleEngineer, RolePlcEngineer, RoleDaoAdmin},
}

// IsValidTopic reports whether name is in the topic catalogue.
func IsValidTopic(name string) bool {
	_, ok := topicCatalogue[name]
	return ok
}

// defaultTopicsForRole returns the subscriptions a fresh connection starts
// with. Dashboards must receive events before the UI gets a chance to
// subscribe, so defaults are applied at registration time. The system topic
// is always included, keeping the set non-empty from the first instant.
func defaultTopicsForRole(role string) map[string]struct{} {
	topics := map[string]struct{}{TopicSystem: {}}
	switch role {
	case RoleEngineer, RolePlcEngineer:
		topics[TopicTaskOffer] = struct{}{}
		topics[TopicTaskUpdate] = struct{}{}
		topics[TopicTaskWithdrawn] = struct{}{}
		topics[TopicPayout] = struct{}{}
	case RoleClientFM:
		topics[TopicTaskUpdate] = struct{}{}
		topics[TopicPlcAlert] = struct{}{}
		topics[TopicAsset] = struct{}{}
	case RoleDaoAdmin:
		topics[TopicDaoEvent] = struct{}{}
		topics[TopicPayout] = struct{}{}
		topics[TopicPlcAlert] = struct{}{}
		topics[TopicAsset] = struct{}{}
	}
	return topics
}

// roleMayReceive is the hard gate applied at fan-out time, independent of
// what a connection thinks it is subscribed to.
func roleMayReceive(role, topic string, defaultAllow bool) bool {
	allowed, ok := rolePolicy[topic]
	if !ok {
		return defaultAllow
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
