package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"regime-backtest-lab/internal/eventbus"
	"regime-backtest-lab/internal/observability"
)

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	defaultBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HubOptions configures a Hub.
type HubOptions struct {
	Bus     *eventbus.Bus
	Buffer  int // per-client outbound queue, defaults to 64
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Hub forwards run_completed and breaker_tripped events to websocket
// clients. A client whose queue is full misses the event.
type Hub struct {
	buffer  int
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	unsubscribe []func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub subscribed to bus.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		clients: make(map[*client]struct{}),
	}
	if h.buffer <= 0 {
		h.buffer = defaultBuffer
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if opts.Bus != nil {
		for _, topic := range []string{eventbus.TopicRunCompleted, eventbus.TopicBreakerTripped} {
			h.unsubscribe = append(h.unsubscribe, opts.Bus.Subscribe(topic, h.forward))
		}
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("stream client queue full, dropping event")
		}
	}
}

// Serve upgrades the request and streams events until the client goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, h.buffer)}
	if !h.add(cl) {
		conn.Close()
		return
	}

	go h.readLoop(cl)
	h.writeLoop(cl)
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.metrics.SetStreamClients(0)
	h.mu.Unlock()

	for _, unsub := range h.unsubscribe {
		unsub()
	}
}

func (h *Hub) forward(_ context.Context, e eventbus.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.SetStreamClients(len(h.clients))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetStreamClients(len(h.clients))
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
