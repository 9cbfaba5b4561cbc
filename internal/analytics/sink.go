// Package analytics batches client usage events into the warehouse table.
// Best effort: events that repeatedly fail to insert are requeued once and
// eventually counted as dead letters, never lost silently without trace.
package analytics

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notfall/dispatchd/internal/store"
)

// Inserter is the slice of the store the sink needs; *store.Store satisfies it.
type Inserter interface {
	InsertAnalyticsEvents(ctx context.Context, rows []store.AnalyticsEvent) error
}

type Config struct {
	Enabled         bool
	BatchSize       int
	FlushInterval   time.Duration
	MaxAttempts     int
	MaxBackoff      time.Duration
	StrictCanonical bool
	DemoSafe        bool
}

type Sink struct {
	cfg Config
	st  Inserter
	log *zap.Logger

	mu         sync.Mutex
	queue      []store.AnalyticsEvent
	flushing   bool
	deadLetter int64

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

func NewSink(cfg Config, st Inserter, log *zap.Logger) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		cfg: cfg,
		st:  st,
		log: log,
		now: time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// inboundEvent is the shape clients put in an analytics frame payload.
type inboundEvent struct {
	EventID    string          `json:"event_id"`
	EventName  string          `json:"event_name"`
	EventLabel string          `json:"event_label"`
	EventTS    *time.Time      `json:"event_ts"`
	SessionID  string          `json:"session_id"`
	Page       string          `json:"page"`
	WidgetID   string          `json:"widget_id"`
	TaskID     string          `json:"task_id"`
	TicketID   string          `json:"ticket_id"`
	DurationMS *int64          `json:"duration_ms"`
	Meta       json.RawMessage `json:"meta"`
}

// ForwardAnalytics implements the hub's forwarder hook: it attributes the
// event to the sending connection's role/identity and enqueues it.
func (s *Sink) ForwardAnalytics(role, engineerID, clientID string, payload json.RawMessage) {
	if s == nil || !s.cfg.Enabled || len(payload) == 0 {
		return
	}
	var in inboundEvent
	if err := json.Unmarshal(payload, &in); err != nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(in.EventName))
	if name == "" {
		return
	}
	if s.cfg.StrictCanonical && !isCanonicalEvent(name) {
		return
	}
	if s.cfg.DemoSafe && containsLikelyPII(in.Meta) {
		return
	}

	ts := s.now().UTC()
	if in.EventTS != nil {
		ts = in.EventTS.UTC()
	}
	meta := in.Meta
	if s.cfg.DemoSafe {
		meta = redactMeta(meta)
	}

	s.enqueue(store.AnalyticsEvent{
		EventID:    in.EventID,
		EventTS:    ts,
		EventName:  name,
		EventLabel: in.EventLabel,
		Role:       role,
		EngineerID: engineerID,
		ClientID:   clientID,
		SessionID:  in.SessionID,
		Page:       in.Page,
		WidgetID:   in.WidgetID,
		TaskID:     in.TaskID,
		TicketID:   in.TicketID,
		DurationMS: in.DurationMS,
		Meta:       meta,
	})
}

func (s *Sink) enqueue(ev store.AnalyticsEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	full := len(s.queue) >= s.cfg.BatchSize
	s.mu.Unlock()
	if full {
		s.Flush(context.Background())
	}
}

// Run flushes on a fixed interval until ctx is cancelled, then drains.
func (s *Sink) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Drain(8 * time.Second)
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush writes up to one batch. Retries with capped exponential backoff; on
// terminal failure the batch is requeued at the front and a dead letter is
// recorded, so a transient outage delays rather than drops.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.flushing || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	n := s.cfg.BatchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := make([]store.AnalyticsEvent, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.st.InsertAnalyticsEvents(ctx, batch); err != nil {
			lastErr = err
			backoff := 250 * time.Millisecond << attempt
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			s.sleep(ctx, backoff)
			continue
		}
		lastErr = nil
		break
	}

	s.mu.Lock()
	if lastErr != nil {
		s.queue = append(batch, s.queue...)
		s.deadLetter++
	}
	s.flushing = false
	s.mu.Unlock()

	if lastErr != nil {
		s.log.Warn("analytics flush failed", zap.Int("batch", len(batch)), zap.Error(lastErr))
	}
}

// Drain flushes until the queue is empty or the timeout passes. Called on
// shutdown; no persisted hub state exists, but queued analytics rows do.
func (s *Sink) Drain(timeout time.Duration) {
	if !s.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	deadline := s.now().Add(timeout)
	for {
		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty || s.now().After(deadline) {
			return
		}
		s.Flush(ctx)
		s.sleep(ctx, 150*time.Millisecond)
	}
}

// Health is the ops snapshot exposed on /hub/stats.
type Health struct {
	Enabled    bool  `json:"enabled"`
	QueueDepth int   `json:"queueDepth"`
	DeadLetter int64 `json:"deadLetterBatches"`
}

func (s *Sink) Health() Health {
	if s == nil {
		return Health{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{Enabled: s.cfg.Enabled, QueueDepth: len(s.queue), DeadLetter: s.deadLetter}
}
