package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardware-checkout-backend/config"
)

func newHubServer(t *testing.T, hub *Hub, userID int64) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn, userID)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_DeliversToEverySessionOfUser(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{PingIntervalSeconds: 30, PongTimeoutSeconds: 10, SendBuffer: 4})
	defer hub.Close()

	url := newHubServer(t, hub, 7)
	first := dial(t, url)
	second := dial(t, url)
	assert.Eventually(t, func() bool { return hub.ClientCount(7) == 2 }, time.Second, 10*time.Millisecond)

	wp := NewWorkerPool(1, 4, nil, hub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Notify(7, Reclaimed("fpga-1"))
	wp.Notify(8, Lost("fpga-2"))

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, EventReclaimed, ev.Type)
		assert.Equal(t, EventReclaimed, ev.Error)
		assert.Equal(t, "fpga-1", ev.Device)
	}
}

func TestHub_UnregistersClosedSession(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{})
	defer hub.Close()

	conn := dial(t, newHubServer(t, hub, 3))
	assert.Eventually(t, func() bool { return hub.ClientCount(3) == 1 }, time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount(3) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Deliver(3, []byte(`{}`)))
}
