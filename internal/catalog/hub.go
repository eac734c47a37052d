package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The subscription stream is read-only public product data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type priceUpdateEvent struct {
	Type      string    `json:"type"`
	Product   Product   `json:"product"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriberConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// SubscriberHub pushes product price updates to WebSocket subscribers.
// It satisfies PriceSubscriber, so wiring is just registry.Subscribe(hub).
//
// All writes to a connection go through its send channel and a single
// writePump goroutine; broadcast never touches the conn directly.
type SubscriberHub struct {
	mu    sync.RWMutex
	conns map[*subscriberConn]struct{}
}

func NewSubscriberHub() *SubscriberHub {
	return &SubscriberHub{conns: make(map[*subscriberConn]struct{})}
}

// ProductPriceChanged implements PriceSubscriber by broadcasting the
// updated product to every connected subscriber.
func (h *SubscriberHub) ProductPriceChanged(product Product) {
	payload, err := json.Marshal(priceUpdateEvent{
		Type:      "price.updated",
		Product:   product,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Warn("price update marshal failed", "product", product.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- payload:
		default:
			// Subscriber too slow; drop this update for it. The registry
			// contract is at-least-once overall, and the HTTP GET of the
			// product remains the source of truth.
			slog.Warn("subscriber send buffer full, dropping price update")
		}
	}
}

// HandleWebSocket upgrades the request and registers the connection for
// price-update pushes.
func (h *SubscriberHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("subscriber websocket upgrade failed", "error", err)
		return
	}

	c := &subscriberConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("price subscriber connected", "remote", conn.RemoteAddr().String())

	go c.writePump()
	go h.readPump(c)
}

// SubscriberCount reports connected subscribers.
func (h *SubscriberHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *SubscriberHub) remove(c *subscriberConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

func (c *subscriberConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *subscriberConn) writePump() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains (and ignores) client frames so pings/close handshakes
// are processed, and tears the connection down on error.
func (h *SubscriberHub) readPump(c *subscriberConn) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
