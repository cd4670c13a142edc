package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hardware-checkout-backend/internal/auth"
	"hardware-checkout-backend/internal/model"
)

type deviceView struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	State model.DeviceState `json:"state"`
	WebRO string            `json:"webro,omitempty"`
}

// ListDevices handles GET /api/devices. Only the read-only URL is public.
func (h *Handler) ListDevices(c *gin.Context) {
	ctx := c.Request.Context()
	devices, err := h.store.ListDevices(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	summaries, err := h.store.QueueSummaries(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	typeNames := make(map[int64]string, len(summaries))
	for _, s := range summaries {
		typeNames[s.TypeID] = s.Name
	}

	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, deviceView{
			Name:  dev.Name,
			Type:  typeNames[dev.DeviceTypeID],
			State: dev.State,
			WebRO: model.Endpoint(dev.ROURL),
		})
	}
	c.JSON(http.StatusOK, views)
}

type ownedDeviceView struct {
	Name      string            `json:"name"`
	State     model.DeviceState `json:"state"`
	SSH       string            `json:"ssh,omitempty"`
	Web       string            `json:"web,omitempty"`
	WebRO     string            `json:"webro,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// MyDevices handles GET /api/me/devices.
func (h *Handler) MyDevices(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	devices, err := h.store.DevicesOwnedBy(c.Request.Context(), user.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]ownedDeviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, ownedDeviceView{
			Name:      dev.Name,
			State:     dev.State,
			SSH:       model.Endpoint(dev.SSHAddr),
			Web:       model.Endpoint(dev.WebURL),
			WebRO:     model.Endpoint(dev.ROURL),
			ExpiresAt: dev.Expiration,
		})
	}
	c.JSON(http.StatusOK, views)
}
