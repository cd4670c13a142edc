package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"hardware-checkout-backend/internal/auth"
)

// adminTransition wraps one of the engine's forced transitions as a handler.
func (h *Handler) adminTransition(name string, apply func(ctx context.Context, deviceID int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := apply(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		user, _ := auth.UserFrom(c)
		log.Printf("Admin %s (%d) ran %s on device %d", user.Name, user.UserID, name, id)

		dev, err := h.store.FindDevice(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": dev.Name, "state": dev.State})
	}
}

// ProvisionDevice handles POST /api/admin/devices/:id/provision.
func (h *Handler) ProvisionDevice() gin.HandlerFunc {
	return h.adminTransition("provision", h.engine.Provision)
}

// DeprovisionDevice handles POST /api/admin/devices/:id/deprovision.
func (h *Handler) DeprovisionDevice() gin.HandlerFunc {
	return h.adminTransition("deprovision", h.engine.Deprovision)
}

// DisableDevice handles POST /api/admin/devices/:id/disable.
func (h *Handler) DisableDevice() gin.HandlerFunc {
	return h.adminTransition("disable", h.engine.Disable)
}

// ReadyDevice handles POST /api/admin/devices/:id/ready.
func (h *Handler) ReadyDevice() gin.HandlerFunc {
	return h.adminTransition("ready", h.engine.DeviceReady)
}
