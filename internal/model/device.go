package model

import "time"

// DeviceState is the lifecycle state of a device. Agent reports use the same
// vocabulary, see lifecycle.Signal.
type DeviceState string

const (
	StateDisabled          DeviceState = "disabled"
	StateReady             DeviceState = "ready"
	StateInQueue           DeviceState = "in-queue"
	StateInUse             DeviceState = "in-use"
	StateWantProvision     DeviceState = "want-provision"
	StateIsProvisioned     DeviceState = "is-provisioned"
	StateWantDeprovision   DeviceState = "want-deprovision"
	StateIsDeprovisioned   DeviceState = "is-deprovisioned"
	StateProvisionFailed   DeviceState = "provision-failed"
	StateDeprovisionFailed DeviceState = "deprovision-failed"
)

// Owned reports whether a device in this state must have an owner.
func (s DeviceState) Owned() bool {
	return s == StateInQueue || s == StateInUse
}

// Failed reports whether the state is a terminal failure.
func (s DeviceState) Failed() bool {
	return s == StateProvisionFailed || s == StateDeprovisionFailed
}

// Device represents a checkout-able hardware unit.
type Device struct {
	ID           int64       `gorm:"primaryKey"`
	Name         string      `gorm:"uniqueIndex;size:128;not null"`
	DeviceTypeID int64       `gorm:"index;not null"`
	State        DeviceState `gorm:"size:32;index;not null"`
	OwnerID      *int64      `gorm:"index"`
	SSHAddr      *string     `gorm:"column:ssh_addr;size:512"`
	WebURL       *string     `gorm:"column:web_url;size:512"`
	ROURL        *string     `gorm:"column:ro_url;size:512"`
	Expiration   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Endpoint returns the value of an optional endpoint column, or "".
func Endpoint(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
