package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/auth"
	"hardware-checkout-backend/internal/lifecycle"
)

// Authenticator resolves agent credentials to a device id.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
}

// Engine is the part of the queue engine a session drives.
type Engine interface {
	Provision(ctx context.Context, deviceID int64) error
	HandleReport(ctx context.Context, deviceID int64, r lifecycle.Report) (lifecycle.Transition, error)
}

// message is the agent wire format. State is a pointer so a missing field can
// be told apart from an empty one.
type message struct {
	State *string `json:"state"`
	SSH   string  `json:"ssh"`
	Web   string  `json:"web"`
	WebRO string  `json:"webro"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Agents are not browsers.
		return true
	},
}

// Handler serves GET /device/state.
type Handler struct {
	auth      Authenticator
	engine    Engine
	hub       *Hub
	cfg       config.WebSocketConfig
	opTimeout time.Duration

	onFirstOpen func()
	firstOpen   sync.Once
}

// NewHandler creates the device session handler. onFirstOpen, if set, runs
// once when the first device authenticates.
func NewHandler(a Authenticator, engine Engine, hub *Hub, cfg config.WebSocketConfig, opTimeout time.Duration, onFirstOpen func()) *Handler {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Handler{
		auth:        a,
		engine:      engine,
		hub:         hub,
		cfg:         cfg,
		opTimeout:   opTimeout,
		onFirstOpen: onFirstOpen,
	}
}

// ServeDevice authenticates the agent, upgrades the connection, forces the
// device to want-provision and then pumps messages until the socket closes.
func (h *Handler) ServeDevice(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		log.Printf("Device connection from %s without credentials", c.ClientIP())
		c.Header("WWW-Authenticate", `Basic realm="device"`)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	deviceID, err := h.auth.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Printf("Rejected device login %q from %s", username, c.ClientIP())
		} else {
			log.Printf("Error authenticating device %q: %v", username, err)
		}
		c.Header("WWW-Authenticate", `Basic realm="device"`)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	if h.onFirstOpen != nil {
		h.firstOpen.Do(h.onFirstOpen)
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for device %s: %v", username, err)
		return
	}

	size := h.cfg.SendBuffer
	if size <= 0 {
		size = 16
	}
	conn := &deviceConn{
		id:       uuid.NewString(),
		deviceID: deviceID,
		name:     username,
		ws:       ws,
		send:     make(chan []byte, size),
	}
	h.hub.register(conn)
	log.Printf("Device %s connected (connection %s)", conn.name, conn.id)

	go h.writePump(conn)

	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	err = h.engine.Provision(ctx, deviceID)
	cancel()
	if err != nil {
		log.Printf("Error provisioning device %s on connect: %v", conn.name, err)
	}

	h.readPump(conn)
}

func (h *Handler) readPump(c *deviceConn) {
	defer func() {
		h.hub.unregister(c)
		c.ws.Close()
		log.Printf("Device %s disconnected (connection %s)", c.name, c.id)
	}()

	pingInterval, pongWait := h.timeouts()
	if h.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(int64(h.cfg.MaxMessageSize))
	}
	c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Device %s read error: %v", c.name, err)
			}
			return
		}
		// Any frame counts as liveness, including ones we drop below.
		c.ws.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		h.handleMessage(c, data)
	}
}

func (h *Handler) handleMessage(c *deviceConn, data []byte) {
	report, ok := decodeReport(data)
	if !ok {
		log.Printf("Dropping malformed message from device %s", c.name)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()
	if _, err := h.engine.HandleReport(ctx, c.deviceID, report); err != nil {
		log.Printf("Error handling %s from device %s: %v", report.Signal, c.name, err)
	}
}

// decodeReport parses an agent message. Anything that is not a JSON object
// with a string "state" is rejected.
func decodeReport(data []byte) (lifecycle.Report, bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil || msg.State == nil {
		return lifecycle.Report{}, false
	}
	return lifecycle.Report{
		Signal: lifecycle.Signal(*msg.State),
		SSH:    msg.SSH,
		Web:    msg.Web,
		WebRO:  msg.WebRO,
	}, true
}

func (h *Handler) writePump(c *deviceConn) {
	pingInterval, pongWait := h.timeouts()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Error writing to device %s: %v", c.name, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) timeouts() (ping, pong time.Duration) {
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
