package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notfall/dispatchd/internal/store"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]store.AnalyticsEvent
	failN   int // first failN calls error out
	calls   int
}

func (f *fakeInserter) InsertAnalyticsEvents(_ context.Context, rows []store.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("insert failed")
	}
	batch := make([]store.AnalyticsEvent, len(rows))
	copy(batch, rows)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeInserter) rows() []store.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AnalyticsEvent
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func newTestSink(cfg Config, ins Inserter) *Sink {
	cfg.Enabled = true
	s := NewSink(cfg, ins, nil)
	s.sleep = func(context.Context, time.Duration) {}
	return s
}

func forward(s *Sink, name string, meta string) {
	payload := map[string]any{"event_name": name}
	if meta != "" {
		payload["meta"] = json.RawMessage(meta)
	}
	b, _ := json.Marshal(payload)
	s.ForwardAnalytics("ENGINEER", "eng_1", "", b)
}

func TestForwardAttributesIdentity(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{StrictCanonical: true}, ins)

	s.ForwardAnalytics("CLIENT_FM", "", "cl_3", []byte(`{"event_name":"Widget.Clicked","widget_id":"w1","page":"/dash"}`))
	s.Flush(context.Background())

	rows := ins.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.EventName != "widget.clicked" {
		t.Errorf("event name not lowered: %q", r.EventName)
	}
	if r.Role != "CLIENT_FM" || r.ClientID != "cl_3" || r.EngineerID != "" {
		t.Errorf("attribution wrong: %+v", r)
	}
	if r.WidgetID != "w1" || r.Page != "/dash" {
		t.Errorf("fields not carried: %+v", r)
	}
	if r.EventTS.IsZero() {
		t.Error("event ts not defaulted")
	}
}

func TestForwardStrictCanonicalFilter(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{StrictCanonical: true}, ins)

	forward(s, "task.completed", "")
	forward(s, "made.up.event", "")
	forward(s, "", "")
	s.Flush(context.Background())

	rows := ins.rows()
	if len(rows) != 1 || rows[0].EventName != "task.completed" {
		t.Fatalf("strict filter kept %v, want only task.completed", rows)
	}
}

func TestForwardLooseModeKeepsUnknownNames(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{StrictCanonical: false}, ins)

	forward(s, "made.up.event", "")
	s.Flush(context.Background())

	if len(ins.rows()) != 1 {
		t.Errorf("loose mode dropped an unknown event name")
	}
}

func TestForwardDropsLikelyPII(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{DemoSafe: true}, ins)

	forward(s, "widget.clicked", `{"note":"call me on 07911123456"}`)
	forward(s, "widget.clicked", `{"contact":"bob@gmail.com"}`)
	forward(s, "widget.clicked", `{"page_ref":"dash"}`)
	s.Flush(context.Background())

	rows := ins.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want only the clean event", len(rows))
	}
}

func TestForwardRedactsBlockedMetaKeys(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{DemoSafe: true}, ins)

	forward(s, "widget.viewed", `{"email":"x","theme":"dark"}`)
	s.Flush(context.Background())

	rows := ins.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	var meta map[string]any
	if err := json.Unmarshal(rows[0].Meta, &meta); err != nil {
		t.Fatalf("meta not valid json: %v", err)
	}
	if _, present := meta["email"]; present {
		t.Error("blocked meta key survived redaction")
	}
	if meta["theme"] != "dark" {
		t.Errorf("harmless key lost: %v", meta)
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{BatchSize: 2}, ins)

	forward(s, "widget.viewed", "")
	if len(ins.rows()) != 0 {
		t.Fatal("flushed before batch full")
	}
	forward(s, "widget.clicked", "")
	if len(ins.rows()) != 2 {
		t.Fatalf("got %d rows after hitting batch size, want 2", len(ins.rows()))
	}
	if s.Health().QueueDepth != 0 {
		t.Errorf("queue depth = %d after flush, want 0", s.Health().QueueDepth)
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	ins := &fakeInserter{failN: 2}
	s := newTestSink(Config{MaxAttempts: 5}, ins)

	forward(s, "widget.viewed", "")
	s.Flush(context.Background())

	if len(ins.rows()) != 1 {
		t.Fatalf("got %d rows, want 1 after retries", len(ins.rows()))
	}
	if h := s.Health(); h.DeadLetter != 0 {
		t.Errorf("dead letters = %d, want 0", h.DeadLetter)
	}
}

func TestFlushTerminalFailureRequeues(t *testing.T) {
	ins := &fakeInserter{failN: 100}
	s := newTestSink(Config{MaxAttempts: 3}, ins)

	forward(s, "widget.viewed", "")
	s.Flush(context.Background())

	h := s.Health()
	if h.DeadLetter != 1 {
		t.Errorf("dead letters = %d, want 1", h.DeadLetter)
	}
	if h.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want event requeued", h.QueueDepth)
	}

	ins.mu.Lock()
	attempts := ins.calls
	ins.failN = 0
	ins.mu.Unlock()
	if attempts != 3 {
		t.Errorf("insert attempts = %d, want 3", attempts)
	}

	// A later flush delivers the requeued event once the store recovers.
	s.Flush(context.Background())
	if len(ins.rows()) != 1 {
		t.Errorf("requeued event never delivered")
	}
}

func TestDisabledSinkIgnoresEverything(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(Config{Enabled: false}, ins, nil)

	s.ForwardAnalytics("ENGINEER", "eng_1", "", []byte(`{"event_name":"widget.viewed"}`))
	s.Flush(context.Background())

	if len(ins.rows()) != 0 {
		t.Error("disabled sink inserted rows")
	}
	if h := s.Health(); h.Enabled || h.QueueDepth != 0 {
		t.Errorf("health = %+v", h)
	}
}

func TestNilSinkSafe(t *testing.T) {
	var s *Sink
	s.ForwardAnalytics("ENGINEER", "eng_1", "", []byte(`{"event_name":"widget.viewed"}`))
	if h := s.Health(); h.Enabled {
		t.Errorf("nil sink health = %+v", h)
	}
}

func TestExplicitEventTimestampKept(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(Config{}, ins)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{"event_name": "widget.viewed", "event_ts": ts})
	s.ForwardAnalytics("ENGINEER", "eng_1", "", payload)
	s.Flush(context.Background())

	rows := ins.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	if !rows[0].EventTS.Equal(ts) {
		t.Errorf("event ts = %v, want %v", rows[0].EventTS, ts)
	}
}
