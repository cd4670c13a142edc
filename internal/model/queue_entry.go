package model

import "time"

// QueueEntry is a single user's outstanding request for a device type.
// Entries are served oldest EnqueuedAt first, ties broken by ID.
type QueueEntry struct {
	ID           int64     `gorm:"primaryKey"`
	UserID       int64     `gorm:"not null;uniqueIndex:idx_queue_user_type"`
	DeviceTypeID int64     `gorm:"not null;uniqueIndex:idx_queue_user_type;index:idx_queue_type_order,priority:1"`
	EnqueuedAt   time.Time `gorm:"not null;index:idx_queue_type_order,priority:2"`
}
