// Package ws exposes the widget hub over a websocket endpoint.
//
// The transport keeps a buffered send channel per connection and a single
// writer goroutine, so hub fan-out never blocks on a slow socket; a full
// buffer is reported back to the hub as a failed send.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notfall/dispatchd/internal/hub"
)

const (
	maxFrameBytes    = 1 << 20
	writeWait        = 10 * time.Second
	defaultSendQueue = 64
)

// Handler upgrades /ws/widgets requests and bridges frames between the
// socket and the hub. Identity on connect comes from query parameters
// (?role=ENGINEER&engineerId=eng_1&clientId=...); browsers cannot reliably
// set headers. A later hello frame goes through the same hub operation.
type Handler struct {
	hub       *hub.Hub
	log       *zap.Logger
	sendQueue int
	upgrader  websocket.Upgrader
}

func NewHandler(h *hub.Hub, log *zap.Logger, sendQueue int) *Handler {
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:       h,
		log:       log,
		sendQueue: sendQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				// Demo deployment; origin enforcement happens upstream.
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	ident := hub.Identity{
		Role:       q.Get("role"),
		EngineerID: q.Get("engineerId"),
		ClientID:   q.Get("clientId"),
	}

	c := &wsConn{
		sock: sock,
		send: make(chan []byte, h.sendQueue),
		done: make(chan struct{}),
	}
	go c.writeLoop()

	id := h.hub.Register(c, ident)
	if id == "" {
		_ = c.Close()
		return
	}

	h.readLoop(c, id)
}

func (h *Handler) readLoop(c *wsConn, id string) {
	c.sock.SetReadLimit(maxFrameBytes)
	c.sock.SetPongHandler(func(string) error {
		h.hub.Touch(id)
		return nil
	})

	for {
		kind, data, err := c.sock.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.hub.HandleInbound(id, data)
	}

	h.hub.Remove(id)
	_ = c.Close()
}

// wsConn adapts one gorilla connection to the hub's Sender.
type wsConn struct {
	sock      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Send enqueues a frame without blocking. A full queue means the consumer
// cannot keep up with fan-out; treat it like a broken socket rather than
// let it stall FIFO delivery for everyone behind it.
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		return errSlowConsumer
	}
}

// Ping issues a protocol-level ping. Safe alongside the writer goroutine;
// gorilla permits concurrent WriteControl.
func (c *wsConn) Ping() error {
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
	return nil
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

type slowConsumerError struct{}

func (slowConsumerError) Error() string { return "ws: send queue full" }

var errSlowConsumer = slowConsumerError{}
