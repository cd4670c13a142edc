package model

import "time"

// User is the identity owning queue entries and devices. Credentials and
// roles live with the external auth service.
type User struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
