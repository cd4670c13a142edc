package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"hardware-checkout-backend/internal/notification"
	"hardware-checkout-backend/internal/queue"
	"hardware-checkout-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	engine  *queue.Engine
	users   *notification.Hub
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, engine *queue.Engine, users *notification.Hub, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		engine:  engine,
		users:   users,
		webpush: webpushOptions,
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// respondError maps store sentinels to status codes and hides anything else.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
