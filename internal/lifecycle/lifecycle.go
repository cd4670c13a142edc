// Package lifecycle holds the device state machine. Functions here mutate
// the device row handed to them and describe the side effects the caller has
// to perform once the row is committed; they never touch storage, timers or
// connections themselves.
//
// Canonical cycle:
//
//	ready -> in-queue -> in-use -> want-deprovision -> is-deprovisioned -> want-provision -> is-provisioned -> ready
//
// is-provisioned and is-deprovisioned are reports from the agent and are
// never stored. provision-failed and deprovision-failed are terminal until an
// operator provisions the device again.
package lifecycle

import "hardware-checkout-backend/internal/model"

// Signal is a status reported by a device agent.
type Signal string

const (
	SignalProvisioned       Signal = "is-provisioned"
	SignalDeprovisioned     Signal = "is-deprovisioned"
	SignalClientConnected   Signal = "client-connected"
	SignalProvisionFailed   Signal = "provision-failed"
	SignalDeprovisionFailed Signal = "deprovision-failed"
	SignalKeepAlive         Signal = "keep-alive"
)

// Report is one decoded agent message. Empty endpoint fields were absent.
type Report struct {
	Signal Signal
	SSH    string
	Web    string
	WebRO  string
}

// Transition describes what Apply or an administrative transition did to a
// device and what has to happen after commit.
type Transition struct {
	From model.DeviceState
	To   model.DeviceState

	// Command is the state to push to the agent, or "" for none.
	Command model.DeviceState
	// CheckQueue asks for a queue check because the device became ready.
	CheckQueue bool
	// StartUsage asks for the usage timer replacing the pickup timer.
	StartUsage bool
	// CancelTimer asks for the device's live timer to be dropped.
	CancelTimer bool
	// PrevOwner is the owner dispossessed by this transition, if any.
	PrevOwner *int64
}

// Changed reports whether the stored state changed.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Apply feeds an agent report into the state machine.
func Apply(dev *model.Device, r Report) Transition {
	// Endpoints are recorded whatever happens to the state.
	if r.SSH != "" {
		dev.SSHAddr = strPtr(r.SSH)
	}
	if r.Web != "" {
		dev.WebURL = strPtr(r.Web)
	}
	if r.WebRO != "" {
		dev.ROURL = strPtr(r.WebRO)
	}

	tr := Transition{From: dev.State, To: dev.State}

	switch {
	case r.Signal == SignalProvisionFailed || r.Signal == SignalDeprovisionFailed:
		tr.PrevOwner = release(dev)
		tr.CancelTimer = true
		dev.State = model.DeviceState(r.Signal)
	case dev.State.Failed() || r.Signal == SignalKeepAlive:
		// endpoints only
	case r.Signal != SignalProvisioned && r.Signal != SignalDeprovisioned && r.Signal != SignalClientConnected:
		// unknown report
	case r.Signal == SignalProvisioned && dev.State == model.StateWantProvision:
		release(dev)
		dev.State = model.StateReady
		tr.CheckQueue = true
	case r.Signal == SignalDeprovisioned && dev.State == model.StateWantDeprovision:
		release(dev)
		dev.State = model.StateWantProvision
		tr.Command = model.StateWantProvision
	case r.Signal == SignalClientConnected && dev.State == model.StateInQueue:
		dev.State = model.StateInUse
		tr.StartUsage = true
	case dev.State == model.StateDisabled || dev.State == model.StateWantDeprovision:
		if r.Signal != SignalDeprovisioned {
			tr.Command = model.StateWantDeprovision
		}
	case r.Signal != SignalProvisioned && r.Signal != SignalClientConnected:
		tr.Command = model.StateWantProvision
	}

	tr.To = dev.State
	return tr
}

// Deprovision forces the device to want-deprovision.
func Deprovision(dev *model.Device) Transition {
	return force(dev, model.StateWantDeprovision)
}

// Provision forces the device to want-provision.
func Provision(dev *model.Device) Transition {
	return force(dev, model.StateWantProvision)
}

// Disable takes the device out of rotation.
func Disable(dev *model.Device) Transition {
	return force(dev, model.StateDisabled)
}

// Ready forces the device to ready and asks for a queue check.
func Ready(dev *model.Device) Transition {
	tr := force(dev, model.StateReady)
	tr.CheckQueue = true
	tr.Command = ""
	return tr
}

// Assign hands a ready device to userID. The caller sets the expiration.
func Assign(dev *model.Device, userID int64) Transition {
	tr := Transition{From: dev.State}
	owner := userID
	dev.OwnerID = &owner
	dev.State = model.StateInQueue
	dev.Expiration = nil
	tr.To = dev.State
	return tr
}

func force(dev *model.Device, to model.DeviceState) Transition {
	tr := Transition{From: dev.State, To: to, CancelTimer: true}
	tr.PrevOwner = release(dev)
	dev.State = to
	switch to {
	case model.StateWantProvision, model.StateWantDeprovision:
		tr.Command = to
	case model.StateDisabled:
		tr.Command = model.StateWantDeprovision
	}
	return tr
}

// release clears owner and expiration and returns the previous owner.
func release(dev *model.Device) *int64 {
	prev := dev.OwnerID
	dev.OwnerID = nil
	dev.Expiration = nil
	return prev
}

func strPtr(s string) *string {
	return &s
}
