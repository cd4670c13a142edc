package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hardware-checkout-backend/internal/auth"
)

var userUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The token is the credential, not the origin.
		return true
	},
}

// QueueEvents handles GET /queue/events: the caller's notification socket.
func (h *Handler) QueueEvents(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	conn, err := userUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for user %d: %v", user.UserID, err)
		return
	}
	h.users.Attach(conn, user.UserID)
}
