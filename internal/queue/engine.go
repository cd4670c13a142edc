// Package queue assigns devices to waiting users and runs every device
// mutation: agent reports, assignments, pickup and usage timeouts and
// administrative transitions all go through Engine, each inside one store
// transaction.
//
// Locking: a per-type mutex guards "pop queue head + assign", a per-device
// mutex guards each device transaction together with the timer change,
// agent command, owner notification and state publish that follow it, so
// side effects of one device leave in commit order. Commander, Notifier and
// StatePublisher must not block. Type locks are always taken before device
// locks, and both before a transaction starts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/lifecycle"
	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/notification"
	"hardware-checkout-backend/internal/store"
	"hardware-checkout-backend/internal/timer"
)

// Commander pushes a state command to a connected device agent. It reports
// whether the device was connected.
type Commander interface {
	SendCommand(deviceID int64, state model.DeviceState) bool
}

// Notifier delivers an event to a user.
type Notifier interface {
	Notify(userID int64, ev notification.Event)
}

// StatePublisher mirrors committed device states to an external bus.
type StatePublisher interface {
	PublishDeviceState(dev model.Device)
}

// errSuperseded aborts a timeout transaction whose device moved on.
var errSuperseded = errors.New("device state changed since the timer was armed")

const claimAttempts = 3

// Engine coordinates the state machine, the queue and the timers.
type Engine struct {
	store     store.Store
	timers    *timer.Service
	commander Commander
	notifier  Notifier
	publisher StatePublisher
	cfg       config.CheckoutConfig

	deviceLocks *keyedMutex
	typeLocks   *keyedMutex
	now         func() time.Time
}

// NewEngine creates an engine. commander and notifier may be nil.
func NewEngine(s store.Store, timers *timer.Service, commander Commander, notifier Notifier, cfg config.CheckoutConfig) *Engine {
	if commander == nil {
		commander = noopCommander{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		store:       s,
		timers:      timers,
		commander:   commander,
		notifier:    notifier,
		publisher:   noopPublisher{},
		cfg:         cfg,
		deviceLocks: newKeyedMutex(),
		typeLocks:   newKeyedMutex(),
		now:         time.Now,
	}
}

// SetPublisher installs the device state publisher.
func (e *Engine) SetPublisher(p StatePublisher) {
	if p != nil {
		e.publisher = p
	}
}

// HandleReport applies an agent report to a device.
func (e *Engine) HandleReport(ctx context.Context, deviceID int64, r lifecycle.Report) (lifecycle.Transition, error) {
	var tr lifecycle.Transition
	err := e.mutate(ctx, deviceID, notification.Lost, func(dev *model.Device) (lifecycle.Transition, error) {
		tr = lifecycle.Apply(dev, r)
		if tr.StartUsage {
			exp := e.now().Add(e.cfg.UsageTimeout)
			dev.Expiration = &exp
		}
		return tr, nil
	})
	return tr, err
}

// Provision forces a device to want-provision and tells the agent.
func (e *Engine) Provision(ctx context.Context, deviceID int64) error {
	return e.force(ctx, deviceID, lifecycle.Provision)
}

// Deprovision forces a device to want-deprovision and tells the agent.
func (e *Engine) Deprovision(ctx context.Context, deviceID int64) error {
	return e.force(ctx, deviceID, lifecycle.Deprovision)
}

// Disable takes a device out of rotation.
func (e *Engine) Disable(ctx context.Context, deviceID int64) error {
	return e.force(ctx, deviceID, lifecycle.Disable)
}

// DeviceReady forces a device to ready and checks its queue.
func (e *Engine) DeviceReady(ctx context.Context, deviceID int64) error {
	return e.force(ctx, deviceID, lifecycle.Ready)
}

func (e *Engine) force(ctx context.Context, deviceID int64, apply func(*model.Device) lifecycle.Transition) error {
	return e.mutate(ctx, deviceID, notification.Lost, func(dev *model.Device) (lifecycle.Transition, error) {
		return apply(dev), nil
	})
}

// mutate runs fn on the locked device row and performs the transition's
// side effects before releasing the device. A queue check runs after the
// release. lost builds the event sent to a dispossessed owner.
func (e *Engine) mutate(ctx context.Context, deviceID int64, lost func(string) notification.Event, fn func(dev *model.Device) (lifecycle.Transition, error)) error {
	unlock := e.deviceLocks.Lock(deviceID)
	var tr lifecycle.Transition
	dev, err := e.store.MutateDevice(ctx, deviceID, func(dev *model.Device) error {
		var err error
		tr, err = fn(dev)
		return err
	})
	if err != nil {
		unlock()
		return err
	}
	e.applyTimers(dev, tr)
	e.emit(dev, tr, lost)
	unlock()

	if tr.CheckQueue {
		if _, err := e.CheckForNewOwner(ctx, dev.ID); err != nil {
			log.Printf("Error checking queue for device %s: %v", dev.Name, err)
		}
	}
	return nil
}

// applyTimers runs under the device lock so timer changes follow commits in
// order.
func (e *Engine) applyTimers(dev model.Device, tr lifecycle.Transition) {
	if tr.CancelTimer {
		e.timers.Cancel(dev.ID)
	}
	if tr.StartUsage && dev.OwnerID != nil {
		e.armUsage(dev.ID, *dev.OwnerID, e.cfg.UsageTimeout)
	}
}

// emit runs under the device lock.
func (e *Engine) emit(dev model.Device, tr lifecycle.Transition, lost func(string) notification.Event) {
	if tr.Command != "" {
		if !e.commander.SendCommand(dev.ID, tr.Command) {
			log.Printf("Device %s is not connected; command %s will be reasserted on its next report", dev.Name, tr.Command)
		}
	}
	if tr.PrevOwner != nil {
		e.notifier.Notify(*tr.PrevOwner, lost(dev.Name))
	}
	if tr.Changed() {
		log.Printf("Device %s: %s -> %s", dev.Name, tr.From, tr.To)
		e.publisher.PublishDeviceState(dev)
	}
}

// CheckForNewOwner hands a ready device to the oldest waiting user of its
// type. It reports whether an assignment happened.
func (e *Engine) CheckForNewOwner(ctx context.Context, deviceID int64) (bool, error) {
	current, err := e.store.FindDevice(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to load device %d: %w", deviceID, err)
	}

	unlockType := e.typeLocks.Lock(current.DeviceTypeID)
	defer unlockType()

	for attempt := 1; ; attempt++ {
		assigned, err := e.claim(ctx, deviceID)
		if errors.Is(err, store.ErrEntryGone) && attempt < claimAttempts {
			continue
		}
		return assigned, err
	}
}

func (e *Engine) claim(ctx context.Context, deviceID int64) (bool, error) {
	unlock := e.deviceLocks.Lock(deviceID)
	var tr lifecycle.Transition
	dev, entry, err := e.store.ClaimNextEntry(ctx, deviceID, func(dev *model.Device, entry model.QueueEntry) error {
		tr = lifecycle.Assign(dev, entry.UserID)
		exp := e.now().Add(e.cfg.PickupTimeout)
		dev.Expiration = &exp
		return nil
	})
	if err != nil || entry == nil {
		unlock()
		return false, err
	}
	defer unlock()
	e.armPickup(dev.ID, entry.UserID, e.cfg.PickupTimeout)

	log.Printf("Device %s assigned to user %d", dev.Name, entry.UserID)
	e.notifier.Notify(entry.UserID, notification.Assigned(dev))
	if tr.Changed() {
		e.publisher.PublishDeviceState(dev)
	}
	return true, nil
}

// CheckType offers every ready device of a type to its queue and returns the
// number of assignments made.
func (e *Engine) CheckType(ctx context.Context, typeID int64) (int, error) {
	devices, err := e.store.ReadyDevices(ctx, typeID)
	if err != nil {
		return 0, fmt.Errorf("failed to list ready devices of type %d: %w", typeID, err)
	}
	assigned := 0
	for _, dev := range devices {
		ok, err := e.CheckForNewOwner(ctx, dev.ID)
		if err != nil {
			log.Printf("Error checking queue for device %s: %v", dev.Name, err)
			continue
		}
		if ok {
			assigned++
		}
	}
	return assigned, nil
}

func (e *Engine) armPickup(deviceID, owner int64, after time.Duration) {
	e.timers.Schedule(deviceID, after, func() { e.returnToPool(deviceID, owner) })
}

func (e *Engine) armUsage(deviceID, owner int64, after time.Duration) {
	e.timers.Schedule(deviceID, after, func() { e.reclaim(deviceID, owner) })
}

// returnToPool runs when an assigned user never connected.
func (e *Engine) returnToPool(deviceID, owner int64) {
	e.expire(deviceID, owner, model.StateInQueue, notification.Lost)
}

// reclaim runs when a usage window ends.
func (e *Engine) reclaim(deviceID, owner int64) {
	e.expire(deviceID, owner, model.StateInUse, notification.Reclaimed)
}

// expire force-deprovisions the device if it is still in the state the
// timer was armed for and still held by the same owner.
func (e *Engine) expire(deviceID, owner int64, armedIn model.DeviceState, lost func(string) notification.Event) {
	ctx, cancel := e.opContext()
	defer cancel()

	err := e.mutate(ctx, deviceID, lost, func(dev *model.Device) (lifecycle.Transition, error) {
		if dev.State != armedIn || dev.OwnerID == nil || *dev.OwnerID != owner {
			return lifecycle.Transition{}, errSuperseded
		}
		return lifecycle.Deprovision(dev), nil
	})
	switch {
	case errors.Is(err, errSuperseded):
		log.Printf("Timer for device %d fired after it left %s; ignoring", deviceID, armedIn)
	case err != nil:
		log.Printf("Error expiring device %d: %v", deviceID, err)
	}
}

// Recover re-arms pickup and usage timers for devices that were assigned
// before a restart. Deadlines already passed fire immediately.
func (e *Engine) Recover(ctx context.Context) error {
	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	now := e.now()
	for _, dev := range devices {
		if dev.OwnerID == nil {
			continue
		}
		var window time.Duration
		switch dev.State {
		case model.StateInQueue:
			window = e.cfg.PickupTimeout
		case model.StateInUse:
			window = e.cfg.UsageTimeout
		default:
			continue
		}
		if dev.Expiration != nil {
			window = dev.Expiration.Sub(now)
			if window < 0 {
				window = 0
			}
		}

		unlock := e.deviceLocks.Lock(dev.ID)
		if dev.State == model.StateInQueue {
			e.armPickup(dev.ID, *dev.OwnerID, window)
		} else {
			e.armUsage(dev.ID, *dev.OwnerID, window)
		}
		unlock()
		log.Printf("Re-armed %s timer for device %s (%s left)", dev.State, dev.Name, window.Round(time.Second))
	}
	return nil
}

// Enqueue puts a user in the queue of a device type and immediately offers
// the type's ready devices. The returned position is the one before that
// check ran.
func (e *Engine) Enqueue(ctx context.Context, userID int64, userName string, typeID int64) (model.QueueEntry, int64, error) {
	if _, err := e.store.FindDeviceType(ctx, typeID); err != nil {
		return model.QueueEntry{}, 0, err
	}
	if err := e.store.EnsureUser(ctx, userID, userName); err != nil {
		return model.QueueEntry{}, 0, fmt.Errorf("failed to record user %d: %w", userID, err)
	}

	// The type lock keeps the insert from interleaving with a claim.
	unlockType := e.typeLocks.Lock(typeID)
	entry, err := e.store.Enqueue(ctx, userID, typeID, e.now())
	unlockType()
	if err != nil {
		return model.QueueEntry{}, 0, err
	}

	position, err := e.store.QueuePosition(ctx, entry)
	if err != nil {
		log.Printf("Error computing queue position for user %d: %v", userID, err)
	}

	if _, err := e.CheckType(ctx, typeID); err != nil {
		log.Printf("Error checking queue of type %d: %v", typeID, err)
	}
	return entry, position, nil
}

// Dequeue removes a user from a queue.
func (e *Engine) Dequeue(ctx context.Context, userID, typeID int64) (bool, error) {
	unlockType := e.typeLocks.Lock(typeID)
	defer unlockType()
	return e.store.Dequeue(ctx, userID, typeID)
}

func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	timeout := e.cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

type noopCommander struct{}

func (noopCommander) SendCommand(int64, model.DeviceState) bool { return false }

type noopNotifier struct{}

func (noopNotifier) Notify(int64, notification.Event) {}

type noopPublisher struct{}

func (noopPublisher) PublishDeviceState(model.Device) {}
