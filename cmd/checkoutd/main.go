package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/api"
	"hardware-checkout-backend/internal/auth"
	"hardware-checkout-backend/internal/db"
	"hardware-checkout-backend/internal/events"
	"hardware-checkout-backend/internal/notification"
	"hardware-checkout-backend/internal/queue"
	"hardware-checkout-backend/internal/session"
	"hardware-checkout-backend/internal/store"
	"hardware-checkout-backend/internal/sweep"
	"hardware-checkout-backend/internal/timer"
)

func main() {
	logger := log.New(os.Stdout, "checkoutd ", log.LstdFlags)
	log.SetOutput(os.Stdout)
	log.SetPrefix("checkoutd ")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret must be configured to verify user tokens")
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Println("VAPID keys are not configured, web push is disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	userHub := notification.NewHub(cfg.WebSocket)
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, userHub, webpushOptions)
	workerPool.Start(ctx)

	timers := timer.New()
	deviceHub := session.NewHub()
	engine := queue.NewEngine(appStore, timers, deviceHub, workerPool, cfg.Checkout)

	if cfg.MQTT.Enabled {
		publisher, err := events.Connect(cfg.MQTT)
		if err != nil {
			logger.Fatalf("failed to connect to MQTT: %v", err)
		}
		defer publisher.Close()
		engine.SetPublisher(publisher)
	}

	if err := engine.Recover(ctx); err != nil {
		logger.Printf("failed to recover device timers: %v", err)
	}

	sweeper := sweep.NewService(appStore, engine, cfg.Checkout.SweepInterval)
	sessions := session.NewHandler(
		auth.NewDeviceAuthenticator(appStore),
		engine,
		deviceHub,
		cfg.WebSocket,
		cfg.Checkout.OperationTimeout,
		func() { sweeper.StartOnce(ctx) },
	)

	router := api.NewRouter(ctx, api.Deps{
		Store:     appStore,
		Engine:    engine,
		Devices:   sessions,
		Users:     userHub,
		Webpush:   webpushOptions,
		Server:    cfg.Server,
		JWTSecret: cfg.Auth.JWTSecret,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Hijacked websockets are not tracked by Shutdown.
	deviceHub.Close()
	userHub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	timers.Stop()
	cancel()

	logger.Println("Server gracefully stopped")
}
