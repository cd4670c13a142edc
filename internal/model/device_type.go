package model

import "time"

// DeviceType is a class of interchangeable devices sharing one wait queue.
type DeviceType struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Devices []Device `gorm:"foreignKey:DeviceTypeID"`
}
