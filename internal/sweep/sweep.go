// Package sweep periodically offers every ready device to its queue so an
// assignment missed by the event path is picked up eventually.
package sweep

import (
	"context"
	"log"
	"sync"
	"time"

	"hardware-checkout-backend/internal/model"
)

// DeviceLister lists devices.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
}

// Assigner hands a ready device to the head of its queue.
type Assigner interface {
	CheckForNewOwner(ctx context.Context, deviceID int64) (bool, error)
}

// Service runs the reconciliation loop.
type Service struct {
	devices  DeviceLister
	assigner Assigner
	interval time.Duration
	once     sync.Once
}

// NewService creates a sweep that runs every interval.
func NewService(devices DeviceLister, assigner Assigner, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{devices: devices, assigner: assigner, interval: interval}
}

// StartOnce starts Run in the background the first time it is called.
func (s *Service) StartOnce(ctx context.Context) {
	s.once.Do(func() {
		go s.Run(ctx)
	})
}

// Run sweeps once, then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	log.Printf("Starting reconciliation sweep every %s", s.interval)

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation sweep shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce checks the queue of every ready device and returns the number of
// assignments made.
func (s *Service) SweepOnce(ctx context.Context) int {
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		log.Printf("Error listing devices for sweep: %v", err)
		return 0
	}

	assigned := 0
	for _, dev := range devices {
		if dev.State != model.StateReady {
			continue
		}
		ok, err := s.assigner.CheckForNewOwner(ctx, dev.ID)
		if err != nil {
			log.Printf("Error checking queue for device %s: %v", dev.Name, err)
			continue
		}
		if ok {
			assigned++
		}
	}
	if assigned > 0 {
		log.Printf("Sweep assigned %d device(s)", assigned)
	}
	return assigned
}
