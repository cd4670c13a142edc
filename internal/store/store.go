package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hardware-checkout-backend/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyQueued is returned when a user already waits for a device type.
	ErrAlreadyQueued = errors.New("user is already queued for this device type")
	// ErrEntryGone is returned when the head of a queue was consumed by
	// another transaction between read and delete.
	ErrEntryGone = errors.New("queue entry was claimed concurrently")
)

// Store defines the interface for all database operations.
type Store interface {
	FindDevice(ctx context.Context, id int64) (model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	ReadyDevices(ctx context.Context, typeID int64) ([]model.Device, error)
	DevicesOwnedBy(ctx context.Context, userID int64) ([]model.Device, error)
	MutateDevice(ctx context.Context, id int64, fn func(dev *model.Device) error) (model.Device, error)
	ClaimNextEntry(ctx context.Context, deviceID int64, assign func(dev *model.Device, entry model.QueueEntry) error) (model.Device, *model.QueueEntry, error)

	FindDeviceType(ctx context.Context, id int64) (model.DeviceType, error)
	EnsureUser(ctx context.Context, id int64, name string) error
	Enqueue(ctx context.Context, userID, typeID int64, now time.Time) (model.QueueEntry, error)
	Dequeue(ctx context.Context, userID, typeID int64) (bool, error)
	QueuePosition(ctx context.Context, entry model.QueueEntry) (int64, error)
	QueueSummaries(ctx context.Context) ([]QueueSummary, error)

	DeviceCredential(ctx context.Context, username string) (model.DeviceCredential, error)
	CreateDeviceType(ctx context.Context, name string) (model.DeviceType, error)
	FindDeviceTypeByName(ctx context.Context, name string) (model.DeviceType, error)
	CreateDevice(ctx context.Context, dev *model.Device, passwordHash string) error
	SetDevicePassword(ctx context.Context, username, passwordHash string) error

	PushSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	SavePushSubscription(ctx context.Context, sub model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// lockDevice reads a device row and holds a row lock on it until the
// transaction ends. SQLite ignores the locking clause.
func lockDevice(tx *gorm.DB, id int64) (model.Device, error) {
	var dev model.Device
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&dev, id).Error; err != nil {
		return dev, fmt.Errorf("failed to load device %d: %w", id, notFound(err))
	}
	return dev, nil
}

// FindDevice loads a single device.
func (s *gormStore) FindDevice(ctx context.Context, id int64) (model.Device, error) {
	var dev model.Device
	if err := s.db.WithContext(ctx).Take(&dev, id).Error; err != nil {
		return dev, notFound(err)
	}
	return dev, nil
}

// ListDevices returns every device ordered by id.
func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// ReadyDevices returns the unowned ready devices of a type.
func (s *gormStore) ReadyDevices(ctx context.Context, typeID int64) ([]model.Device, error) {
	var devices []model.Device
	err := s.db.WithContext(ctx).
		Where("device_type_id = ? AND state = ? AND owner_id IS NULL", typeID, model.StateReady).
		Order("id").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// DevicesOwnedBy returns the devices currently held by a user.
func (s *gormStore) DevicesOwnedBy(ctx context.Context, userID int64) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("owner_id = ?", userID).Order("id").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// MutateDevice reads the device, lets fn modify it and writes it back in one
// transaction. An error from fn rolls the transaction back.
func (s *gormStore) MutateDevice(ctx context.Context, id int64, fn func(dev *model.Device) error) (model.Device, error) {
	var result model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := lockDevice(tx, id)
		if err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		if err := tx.Save(&dev).Error; err != nil {
			return fmt.Errorf("failed to save device %d: %w", id, err)
		}
		result = dev
		return nil
	})
	return result, err
}

// ClaimNextEntry pops the oldest queue entry for the device's type and hands
// it to assign together with the locked device, all in one transaction.
// Nothing is claimed when the device is not ready and unowned or when the
// queue is empty; the returned entry is nil in that case.
func (s *gormStore) ClaimNextEntry(ctx context.Context, deviceID int64, assign func(dev *model.Device, entry model.QueueEntry) error) (model.Device, *model.QueueEntry, error) {
	var (
		result  model.Device
		claimed *model.QueueEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := lockDevice(tx, deviceID)
		if err != nil {
			return err
		}
		result = dev
		if dev.State != model.StateReady || dev.OwnerID != nil {
			return nil
		}

		var entry model.QueueEntry
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_type_id = ?", dev.DeviceTypeID).
			Order("enqueued_at, id").
			Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read queue head for type %d: %w", dev.DeviceTypeID, err)
		}

		res := tx.Delete(&model.QueueEntry{}, entry.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to delete queue entry %d: %w", entry.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrEntryGone
		}

		if err := assign(&dev, entry); err != nil {
			return err
		}
		if err := tx.Save(&dev).Error; err != nil {
			return fmt.Errorf("failed to save device %d: %w", dev.ID, err)
		}
		result = dev
		claimed = &entry
		return nil
	})
	if err != nil {
		return model.Device{}, nil, err
	}
	return result, claimed, nil
}

// FindDeviceType loads a device type.
func (s *gormStore) FindDeviceType(ctx context.Context, id int64) (model.DeviceType, error) {
	var dt model.DeviceType
	if err := s.db.WithContext(ctx).Take(&dt, id).Error; err != nil {
		return dt, notFound(err)
	}
	return dt, nil
}

// EnsureUser records a user resolved by the external auth service.
func (s *gormStore) EnsureUser(ctx context.Context, id int64, name string) error {
	user := model.User{ID: id, Name: name}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error
}

// Enqueue appends a user to the queue of a device type.
func (s *gormStore) Enqueue(ctx context.Context, userID, typeID int64, now time.Time) (model.QueueEntry, error) {
	entry := model.QueueEntry{UserID: userID, DeviceTypeID: typeID, EnqueuedAt: now}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.QueueEntry{}).
			Where("user_id = ? AND device_type_id = ?", userID, typeID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyQueued
		}
		return tx.Create(&entry).Error
	})
	return entry, err
}

// Dequeue removes a user's entry for a device type. It reports whether an
// entry existed.
func (s *gormStore) Dequeue(ctx context.Context, userID, typeID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND device_type_id = ?", userID, typeID).
		Delete(&model.QueueEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// QueuePosition returns the 1-based position of an entry in its queue.
func (s *gormStore) QueuePosition(ctx context.Context, entry model.QueueEntry) (int64, error) {
	var ahead int64
	err := s.db.WithContext(ctx).Model(&model.QueueEntry{}).
		Where("device_type_id = ? AND (enqueued_at < ? OR (enqueued_at = ? AND id < ?))",
			entry.DeviceTypeID, entry.EnqueuedAt, entry.EnqueuedAt, entry.ID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// QueueSummaries reports waiting users and ready devices per device type.
func (s *gormStore) QueueSummaries(ctx context.Context) ([]QueueSummary, error) {
	db := s.db.WithContext(ctx)

	var types []model.DeviceType
	if err := db.Order("id").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to list device types: %w", err)
	}

	type countRow struct {
		DeviceTypeID int64
		Total        int64
	}
	var waiting, ready []countRow
	if err := db.Model(&model.QueueEntry{}).
		Select("device_type_id, COUNT(*) as total").
		Group("device_type_id").
		Scan(&waiting).Error; err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	if err := db.Model(&model.Device{}).
		Select("device_type_id, COUNT(*) as total").
		Where("state = ?", model.StateReady).
		Group("device_type_id").
		Scan(&ready).Error; err != nil {
		return nil, fmt.Errorf("failed to count ready devices: %w", err)
	}

	waitingMap := make(map[int64]int64, len(waiting))
	for _, r := range waiting {
		waitingMap[r.DeviceTypeID] = r.Total
	}
	readyMap := make(map[int64]int64, len(ready))
	for _, r := range ready {
		readyMap[r.DeviceTypeID] = r.Total
	}

	summaries := make([]QueueSummary, 0, len(types))
	for _, t := range types {
		summaries = append(summaries, QueueSummary{
			TypeID:  t.ID,
			Name:    t.Name,
			Waiting: waitingMap[t.ID],
			Ready:   readyMap[t.ID],
		})
	}
	return summaries, nil
}

// DeviceCredential looks up the credential row for an agent username.
func (s *gormStore) DeviceCredential(ctx context.Context, username string) (model.DeviceCredential, error) {
	var cred model.DeviceCredential
	if err := s.db.WithContext(ctx).Where("username = ?", username).Take(&cred).Error; err != nil {
		return cred, notFound(err)
	}
	return cred, nil
}

// PushSubscriptions returns the browser push endpoints of a user.
func (s *gormStore) PushSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// SavePushSubscription creates or replaces a subscription by endpoint.
func (s *gormStore) SavePushSubscription(ctx context.Context, sub model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(&sub).Error
}

// DeletePushSubscription removes a subscription.
func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// CreateDeviceType adds a device type.
func (s *gormStore) CreateDeviceType(ctx context.Context, name string) (model.DeviceType, error) {
	dt := model.DeviceType{Name: name}
	if err := s.db.WithContext(ctx).Create(&dt).Error; err != nil {
		return dt, fmt.Errorf("failed to create device type %q: %w", name, err)
	}
	return dt, nil
}

// FindDeviceTypeByName loads a device type by name.
func (s *gormStore) FindDeviceTypeByName(ctx context.Context, name string) (model.DeviceType, error) {
	var dt model.DeviceType
	if err := s.db.WithContext(ctx).Where("name = ?", name).Take(&dt).Error; err != nil {
		return dt, notFound(err)
	}
	return dt, nil
}

// CreateDevice inserts a device together with its agent credential. The
// device name doubles as the agent username.
func (s *gormStore) CreateDevice(ctx context.Context, dev *model.Device, passwordHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dev).Error; err != nil {
			return fmt.Errorf("failed to create device %q: %w", dev.Name, err)
		}
		cred := model.DeviceCredential{DeviceID: dev.ID, Username: dev.Name, PasswordHash: passwordHash}
		if err := tx.Create(&cred).Error; err != nil {
			return fmt.Errorf("failed to create credential for %q: %w", dev.Name, err)
		}
		return nil
	})
}

// SetDevicePassword replaces the password hash of an agent.
func (s *gormStore) SetDevicePassword(ctx context.Context, username, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&model.DeviceCredential{}).
		Where("username = ?", username).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
