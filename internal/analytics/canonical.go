package analytics

// canonicalEvents is the closed set of event names the platform emits. In
// strict mode anything else is dropped at enqueue time, keeping dashboards
// and the warehouse consistent.
var canonicalEvents = map[string]struct{}{
	// Ticket lifecycle
	"ticket.created":   {},
	"ticket.updated":   {},
	"ticket.cancelled": {},
	"ticket.escalated": {},

	// Matching lifecycle
	"match.started":  {},
	"match.scored":   {},
	"match.offered":  {},
	"match.rejected": {},
	"match.accepted": {},
	"match.failed":   {},

	// Task lifecycle
	"task.offered":     {},
	"task.accepted":    {},
	"task.declined":    {},
	"task.assigned":    {},
	"task.en_route":    {},
	"task.on_site":     {},
	"task.rams":        {},
	"task.sla":         {},
	"task.completed":   {},
	"task.refund":      {},
	"task.reassigned":  {},
	"task.escalated":   {},
	"task.service_fee": {},

	// Payments / escrow / fees
	"escrow.deposited": {},
	"escrow.released":  {},
	"payout.attempted": {},
	"payout.succeeded": {},
	"payout.failed":    {},

	// Governance / DAO
	"dao.cert.submitted": {},
	"dao.cert.approved":  {},
	"dao.cert.rejected":  {},
	"dao.policy.updated": {},

	// Compliance & evidence
	"evidence.uploaded":            {},
	"compliance.report.generated":  {},
	"audit.logged":                 {},

	// PLC
	"plc.alert.created": {},

	// Widget usage
	"widget.viewed":  {},
	"widget.clicked": {},
}

func isCanonicalEvent(name string) bool {
	_, ok := canonicalEvents[name]
	return ok
}
