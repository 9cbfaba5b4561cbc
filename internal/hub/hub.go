// Package hub implements the realtime widget notification hub: a topic-based
// pub/sub that fans dispatch events (ticket/task/match/escrow/DAO/PLC
// lifecycle changes) out to connected dashboards, scoped by role and by
// engineer/client identity.
//
// The hub never inspects event payloads; it only decides who receives them.
// Delivery is best effort and at-most-once per open connection: a failed send
// evicts the connection, nothing is buffered or retried.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Default supervision timings, matching the dashboard proxy keep-alive
// behaviour the UI was built against.
const (
	DefaultPingInterval = 25 * time.Second
	DefaultIdleTimeout  = 2 * time.Minute
)

// Sender is the transport side of one connection. Implementations must not
// block in Send: a connection that cannot accept a frame immediately should
// return an error, which the hub treats as a broken socket.
type Sender interface {
	Send(frame []byte) error
	Ping() error
	Close() error
}

// AnalyticsForwarder receives client usage events arriving over the socket,
// the one place the control plane hands data to an external consumer.
type AnalyticsForwarder interface {
	ForwardAnalytics(role, engineerID, clientID string, payload json.RawMessage)
}

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration

	// PolicyDefaultAllow controls delivery of topics with no explicit role
	// rule. The source system was permissive here; keeping that behaviour is
	// a deliberate, documented relaxation.
	PolicyDefaultAllow bool

	Analytics  AnalyticsForwarder
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Identity is the role/identity announced at connection time, either via
// query parameters on the upgrade request or a later hello frame.
type Identity struct {
	Role       string
	EngineerID string
	ClientID   string
}

// conn is one registered connection. All fields are owned by the Hub and
// only touched with h.mu held.
type conn struct {
	id          string
	sender      Sender
	role        string
	engineerID  string
	clientID    string
	topics      map[string]struct{}
	connectedAt time.Time
	lastSeenAt  time.Time
}

// Hub owns the connection registry and the two identity indices. All other
// components (fan-out, control plane, liveness supervisor) go through its
// methods; the maps never escape.
type Hub struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics

	mu         sync.Mutex
	conns      map[string]*conn
	byEngineer map[string]map[string]*conn
	byClient   map[string]map[string]*conn
	closed     bool

	now func() time.Time // test hook
}

// New constructs a Hub. It does not start the liveness supervisor; run that
// with RunLiveness.
func New(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Hub{
		opts:       opts,
		log:        opts.Logger,
		metrics:    newMetrics(reg),
		conns:      make(map[string]*conn),
		byEngineer: make(map[string]map[string]*conn),
		byClient:   make(map[string]map[string]*conn),
		now:        time.Now,
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close evicts every connection and marks the hub closed; subsequent
// registrations are refused by returning an empty id.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.conns {
		_ = c.sender.Close()
		h.removeLocked(id, "shutdown")
	}
}

// Stats is a point-in-time snapshot for the ops endpoint.
type Stats struct {
	Connections int            `json:"connections"`
	ByRole      map[string]int `json:"byRole"`
	ByTopic     map[string]int `json:"byTopic"`
	Engineers   int            `json:"engineersIndexed"`
	Clients     int            `json:"clientsIndexed"`
}

// Snapshot returns current registry counts.
func (h *Hub) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Connections: len(h.conns),
		ByRole:      make(map[string]int),
		ByTopic:     make(map[string]int),
		Engineers:   len(h.byEngineer),
		Clients:     len(h.byClient),
	}
	for _, c := range h.conns {
		st.ByRole[c.role]++
		for t := range c.topics {
			st.ByTopic[t]++
		}
	}
	return st
}
