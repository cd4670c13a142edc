package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/auth"
	"hardware-checkout-backend/internal/mw"
	"hardware-checkout-backend/internal/notification"
	"hardware-checkout-backend/internal/queue"
	"hardware-checkout-backend/internal/session"
	"hardware-checkout-backend/internal/store"
)

// Deps are the components the router exposes.
type Deps struct {
	Store     store.Store
	Engine    *queue.Engine
	Devices   *session.Handler
	Users     *notification.Hub
	Webpush   *webpush.Options
	Server    config.ServerConfig
	JWTSecret string
}

// NewRouter creates and configures a new Gin router. ctx bounds the
// background janitor of the rate limiter.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(d.Store, d.Engine, d.Users, d.Webpush)

	limiter := mw.NewIPRateLimiter(rate.Limit(d.Server.RateLimitPerSec), d.Server.RateLimitBurst)
	go limiter.RunJanitor(ctx, time.Minute, 10*time.Minute)
	rateLimiter := mw.RateLimiter(limiter)

	ttl := time.Duration(d.Server.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	requireUser := auth.RequireUser(d.JWTSecret)

	// Agents authenticate with Basic auth inside the handler.
	r.GET("/device/state", d.Devices.ServeDevice)
	r.GET("/queue/events", requireUser, handler.QueueEvents)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/queues", caching, handler.ListQueues)
		api.GET("/devices", caching, handler.ListDevices)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		user := api.Group("", requireUser)
		user.GET("/me/devices", handler.MyDevices)
		user.POST("/queues/:type_id/entries", handler.Enqueue)
		user.DELETE("/queues/:type_id/entries", handler.Dequeue)
		user.PUT("/subscriptions", handler.PutSubscription)
		user.DELETE("/subscriptions", handler.DeleteSubscription)

		admin := user.Group("/admin", auth.RequireAdmin())
		admin.POST("/devices/:id/provision", handler.ProvisionDevice())
		admin.POST("/devices/:id/deprovision", handler.DeprovisionDevice())
		admin.POST("/devices/:id/disable", handler.DisableDevice())
		admin.POST("/devices/:id/ready", handler.ReadyDevice())
	}

	return r
}
