package notification

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

type job struct {
	userID int64
	event  Event
}

// WorkerPool delivers user events to open notification sessions and to the
// user's web push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan job
	store   store.Store
	hub     *Hub
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool. webpushOptions may be nil to
// disable web push.
func NewWorkerPool(size, queueSize int, s store.Store, hub *Hub, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan job, queueSize),
		store:   s,
		hub:     hub,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case j := <-wp.jobs:
			wp.deliver(ctx, j)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Notify queues an event for a user. It never blocks: when the queue is full
// the event is dropped and logged.
func (wp *WorkerPool) Notify(userID int64, ev Event) {
	select {
	case wp.jobs <- job{userID: userID, event: ev}:
	default:
		log.Printf("Notification queue is full, dropping %s for user %d", ev.Type, userID)
	}
}

func (wp *WorkerPool) deliver(ctx context.Context, j job) {
	payload, err := json.Marshal(j.event)
	if err != nil {
		log.Printf("Error encoding %s event: %v", j.event.Type, err)
		return
	}

	sessions := 0
	if wp.hub != nil {
		sessions = wp.hub.Deliver(j.userID, payload)
	}
	log.Printf("Delivered %s for device %s to %d session(s) of user %d", j.event.Type, j.event.Device, sessions, j.userID)

	if wp.webpush == nil {
		return
	}
	subscriptions, err := wp.store.PushSubscriptions(ctx, j.userID)
	if err != nil {
		log.Printf("Error fetching subscriptions for user %d: %v", j.userID, err)
		return
	}
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
