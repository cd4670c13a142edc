package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hardware-checkout-backend/internal/auth"
)

// ListQueues handles GET /api/queues.
func (h *Handler) ListQueues(c *gin.Context) {
	summaries, err := h.store.QueueSummaries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

type enqueueResponse struct {
	ID         int64     `json:"id"`
	TypeID     int64     `json:"type_id"`
	Position   int64     `json:"position"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Enqueue handles POST /api/queues/:type_id/entries.
func (h *Handler) Enqueue(c *gin.Context) {
	typeID, ok := pathID(c, "type_id")
	if !ok {
		return
	}
	user, _ := auth.UserFrom(c)

	entry, position, err := h.engine.Enqueue(c.Request.Context(), user.UserID, user.Name, typeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enqueueResponse{
		ID:         entry.ID,
		TypeID:     entry.DeviceTypeID,
		Position:   position,
		EnqueuedAt: entry.EnqueuedAt,
	})
}

// Dequeue handles DELETE /api/queues/:type_id/entries.
func (h *Handler) Dequeue(c *gin.Context) {
	typeID, ok := pathID(c, "type_id")
	if !ok {
		return
	}
	user, _ := auth.UserFrom(c)

	removed, err := h.engine.Dequeue(c.Request.Context(), user.UserID, typeID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not queued"})
		return
	}
	c.Status(http.StatusNoContent)
}
