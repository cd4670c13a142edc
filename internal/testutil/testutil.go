// Package testutil provides shared test fixtures: a migrated in-memory SQLite
// database per test and helpers to seed device types, devices and queue
// entries. Helpers fail the test instead of returning errors.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hardware-checkout-backend/internal/db"
	"hardware-checkout-backend/internal/model"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with every table migrated.
// The single connection keeps concurrent goroutines from hitting SQLITE_BUSY.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(gormDB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gormDB
}

// SeedType creates a device type.
func SeedType(t *testing.T, gormDB *gorm.DB, name string) model.DeviceType {
	t.Helper()
	dt := model.DeviceType{Name: name}
	if err := gormDB.Create(&dt).Error; err != nil {
		t.Fatalf("failed to seed device type %q: %v", name, err)
	}
	return dt
}

// SeedDevice creates an unowned device in the given state.
func SeedDevice(t *testing.T, gormDB *gorm.DB, name string, typeID int64, state model.DeviceState) model.Device {
	t.Helper()
	dev := model.Device{Name: name, DeviceTypeID: typeID, State: state}
	if err := gormDB.Create(&dev).Error; err != nil {
		t.Fatalf("failed to seed device %q: %v", name, err)
	}
	return dev
}

// SeedEntry queues a user for a device type at the given time.
func SeedEntry(t *testing.T, gormDB *gorm.DB, userID, typeID int64, at time.Time) model.QueueEntry {
	t.Helper()
	entry := model.QueueEntry{UserID: userID, DeviceTypeID: typeID, EnqueuedAt: at}
	if err := gormDB.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed queue entry for user %d: %v", userID, err)
	}
	return entry
}

// ReloadDevice reads the current row of a device.
func ReloadDevice(t *testing.T, gormDB *gorm.DB, id int64) model.Device {
	t.Helper()
	var dev model.Device
	if err := gormDB.Take(&dev, id).Error; err != nil {
		t.Fatalf("failed to reload device %d: %v", id, err)
	}
	return dev
}

// CountEntries returns the number of queue entries for a type.
func CountEntries(t *testing.T, gormDB *gorm.DB, typeID int64) int64 {
	t.Helper()
	var n int64
	if err := gormDB.Model(&model.QueueEntry{}).Where("device_type_id = ?", typeID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count queue entries: %v", err)
	}
	return n
}
