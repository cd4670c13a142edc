package notification

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hardware-checkout-backend/config"
)

// Hub tracks the notification websockets of each user. A user may have any
// number of open sessions; every one of them receives the user's events.
type Hub struct {
	cfg     config.WebSocketConfig
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
}

// Client is one user notification websocket.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// NewHub creates an empty user hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		cfg:     cfg,
		clients: make(map[int64]map[*Client]struct{}),
	}
}

// Attach registers an upgraded connection for userID and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, userID int64) *Client {
	size := h.cfg.SendBuffer
	if size <= 0 {
		size = 16
	}
	c := &Client{hub: h, conn: conn, userID: userID, send: make(chan []byte, size)}

	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	log.Printf("User %d opened a notification session", userID)
	go c.writePump()
	go c.readPump()
	return c
}

// unregister removes c. Only the caller that actually removed it closes the
// send channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	set := h.clients[c.userID]
	_, existed := set[c]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	if existed {
		close(c.send)
		log.Printf("User %d closed a notification session", c.userID)
	}
}

// Deliver queues data on every session of userID and returns how many
// sessions accepted it.
func (h *Hub) Deliver(userID int64, data []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.trySend(data) {
			sent++
		}
	}
	return sent
}

// ClientCount returns the number of open sessions of userID.
func (h *Hub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
			c.conn.Close()
		}
		delete(h.clients, userID)
	}
}

// trySend drops the message when the buffer is full or the client is gone.
func (c *Client) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		log.Printf("Notification buffer of user %d is full, dropping message", c.userID)
		return false
	}
}

// readPump only exists to process pings and detect the close; users send
// nothing meaningful on this socket.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := c.hub.timeouts()
	if c.hub.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	}
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Notification socket of user %d failed: %v", c.userID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

func (c *Client) writePump() {
	pingInterval, pongWait := c.hub.timeouts()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) timeouts() (ping, pong time.Duration) {
	ping = time.Duration(h.cfg.PingIntervalSeconds) * time.Second
	pong = time.Duration(h.cfg.PongTimeoutSeconds) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}
