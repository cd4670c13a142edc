package model

// DeviceCredential maps an agent's Basic-auth username to its device.
// PasswordHash is an argon2id PHC string.
type DeviceCredential struct {
	DeviceID     int64  `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:256;not null"`
}
