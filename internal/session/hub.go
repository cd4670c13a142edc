// Package session runs device agent websockets: it authenticates the agent,
// turns its messages into state machine reports and carries state commands
// back to it.
package session

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"hardware-checkout-backend/internal/model"
)

// Command is the message pushed to an agent.
type Command struct {
	State model.DeviceState `json:"state"`
}

// Hub maps device ids to their live connection. A device has at most one;
// a reconnect replaces and closes the previous one.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]*deviceConn
}

type deviceConn struct {
	id       string
	deviceID int64
	name     string
	ws       *websocket.Conn
	send     chan []byte

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewHub creates an empty device hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[int64]*deviceConn)}
}

func (h *Hub) register(c *deviceConn) {
	h.mu.Lock()
	old := h.conns[c.deviceID]
	h.conns[c.deviceID] = c
	h.mu.Unlock()

	if old != nil {
		log.Printf("Device %s reconnected, closing connection %s", c.name, old.id)
		old.close()
		old.ws.Close()
	}
}

// unregister removes c unless a newer connection already took its place.
func (h *Hub) unregister(c *deviceConn) {
	h.mu.Lock()
	if h.conns[c.deviceID] == c {
		delete(h.conns, c.deviceID)
	}
	h.mu.Unlock()
	c.close()
}

// SendCommand queues a command for a device. It reports false when the
// device is not connected or its buffer is full.
func (h *Hub) SendCommand(deviceID int64, state model.DeviceState) bool {
	h.mu.RLock()
	c := h.conns[deviceID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	data, err := json.Marshal(Command{State: state})
	if err != nil {
		return false
	}
	return c.safeSend(data)
}

// Connected reports whether a device has a live connection.
func (h *Hub) Connected(deviceID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[deviceID]
	return ok
}

// Count returns the number of connected devices.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every device connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[int64]*deviceConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
		c.ws.Close()
	}
}

func (c *deviceConn) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("Command buffer of device %s is full", c.name)
		return false
	}
}

func (c *deviceConn) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}
