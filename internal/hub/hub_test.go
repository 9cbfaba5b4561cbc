package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSender records frames so registry and fan-out behaviour can be tested
// without a real websocket.
type fakeSender struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	failSend bool
}

func (f *fakeSender) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || f.closed {
		return errors.New("send failed")
	}
	f.frames = append(f.frames, append([]byte(nil), b...))
	return nil
}

func (f *fakeSender) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) decoded(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, b := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode frame %s: %v", b, err)
		}
		out = append(out, m)
	}
	return out
}

// framesFor returns decoded frames matching a topic.
func (f *fakeSender) framesFor(t *testing.T, topic string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.decoded(t) {
		if m["topic"] == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(Options{PolicyDefaultAllow: true})
	t.Cleanup(h.Close)
	return h
}

func register(t *testing.T, h *Hub, ident Identity) (*fakeSender, string) {
	t.Helper()
	s := &fakeSender{}
	id := h.Register(s, ident)
	if id == "" {
		t.Fatal("Register returned empty id")
	}
	return s, id
}

func advance(h *Hub, d time.Duration) {
	base := h.now()
	h.now = func() time.Time { return base.Add(d) }
}
