package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardware-checkout-backend/internal/model"
)

var allStates = []model.DeviceState{
	model.StateDisabled,
	model.StateReady,
	model.StateInQueue,
	model.StateInUse,
	model.StateWantProvision,
	model.StateWantDeprovision,
	model.StateProvisionFailed,
	model.StateDeprovisionFailed,
}

var allSignals = []Signal{
	SignalProvisioned,
	SignalDeprovisioned,
	SignalClientConnected,
	SignalProvisionFailed,
	SignalDeprovisionFailed,
	SignalKeepAlive,
	Signal("rebooting"),
}

func deviceIn(state model.DeviceState) *model.Device {
	dev := &model.Device{ID: 1, Name: "device0", DeviceTypeID: 1, State: state}
	if state.Owned() {
		owner := int64(42)
		exp := time.Now().Add(time.Hour)
		dev.OwnerID = &owner
		dev.Expiration = &exp
	}
	return dev
}

func TestApply(t *testing.T) {
	testCases := []struct {
		name        string
		state       model.DeviceState
		signal      Signal
		wantState   model.DeviceState
		wantCommand model.DeviceState
		wantCheck   bool
		wantUsage   bool
	}{
		{"provisioned while wanting provision becomes ready", model.StateWantProvision, SignalProvisioned, model.StateReady, "", true, false},
		{"deprovisioned while wanting deprovision reprovisions", model.StateWantDeprovision, SignalDeprovisioned, model.StateWantProvision, model.StateWantProvision, false, false},
		{"client connected while queued starts usage", model.StateInQueue, SignalClientConnected, model.StateInUse, "", false, true},
		{"provision failure is recorded", model.StateWantProvision, SignalProvisionFailed, model.StateProvisionFailed, "", false, false},
		{"deprovision failure is recorded", model.StateWantDeprovision, SignalDeprovisionFailed, model.StateDeprovisionFailed, "", false, false},
		{"failed device ignores provisioned", model.StateProvisionFailed, SignalProvisioned, model.StateProvisionFailed, "", false, false},
		{"keep-alive never transitions", model.StateWantProvision, SignalKeepAlive, model.StateWantProvision, "", false, false},
		{"unknown signal is ignored", model.StateReady, Signal("rebooting"), model.StateReady, "", false, false},
		{"disabled reasserts deprovision", model.StateDisabled, SignalProvisioned, model.StateDisabled, model.StateWantDeprovision, false, false},
		{"disabled ignores deprovisioned", model.StateDisabled, SignalDeprovisioned, model.StateDisabled, "", false, false},
		{"want-deprovision reasserts on client connected", model.StateWantDeprovision, SignalClientConnected, model.StateWantDeprovision, model.StateWantDeprovision, false, false},
		{"ready device reporting deprovisioned is told to provision", model.StateReady, SignalDeprovisioned, model.StateReady, model.StateWantProvision, false, false},
		{"in-use device reporting deprovisioned is told to provision", model.StateInUse, SignalDeprovisioned, model.StateInUse, model.StateWantProvision, false, false},
		{"provisioned while ready is a no-op", model.StateReady, SignalProvisioned, model.StateReady, "", false, false},
		{"client connected while in use is a no-op", model.StateInUse, SignalClientConnected, model.StateInUse, "", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := deviceIn(tc.state)
			tr := Apply(dev, Report{Signal: tc.signal})

			assert.Equal(t, tc.state, tr.From)
			assert.Equal(t, tc.wantState, tr.To)
			assert.Equal(t, tc.wantState, dev.State)
			assert.Equal(t, tc.wantCommand, tr.Command)
			assert.Equal(t, tc.wantCheck, tr.CheckQueue)
			assert.Equal(t, tc.wantUsage, tr.StartUsage)
		})
	}
}

func TestApply_EndpointsAlwaysUpdated(t *testing.T) {
	dev := deviceIn(model.StateProvisionFailed)
	tr := Apply(dev, Report{Signal: SignalKeepAlive, SSH: "ssh a@b", Web: "https://w", WebRO: "https://ro"})

	assert.False(t, tr.Changed())
	assert.Equal(t, model.StateProvisionFailed, dev.State)
	assert.Equal(t, "ssh a@b", model.Endpoint(dev.SSHAddr))
	assert.Equal(t, "https://w", model.Endpoint(dev.WebURL))
	assert.Equal(t, "https://ro", model.Endpoint(dev.ROURL))

	// Absent fields keep their previous value.
	Apply(dev, Report{Signal: SignalKeepAlive, Web: "https://w2"})
	assert.Equal(t, "ssh a@b", model.Endpoint(dev.SSHAddr))
	assert.Equal(t, "https://w2", model.Endpoint(dev.WebURL))
}

func TestApply_FailureReleasesOwner(t *testing.T) {
	dev := deviceIn(model.StateInUse)
	tr := Apply(dev, Report{Signal: SignalDeprovisionFailed})

	require.NotNil(t, tr.PrevOwner)
	assert.Equal(t, int64(42), *tr.PrevOwner)
	assert.True(t, tr.CancelTimer)
	assert.Nil(t, dev.OwnerID)
	assert.Nil(t, dev.Expiration)
}

func TestApply_OnlyGraphTransitions(t *testing.T) {
	for _, state := range allStates {
		for _, signal := range allSignals {
			dev := deviceIn(state)
			tr := Apply(dev, Report{Signal: signal})
			assert.True(t, allowed(tr.From, tr.To), "%s --%s--> %s is not in the graph", tr.From, signal, tr.To)
			assert.NotEqual(t, model.StateIsProvisioned, dev.State)
			assert.NotEqual(t, model.StateIsDeprovisioned, dev.State)
		}
	}
}

func TestApply_OwnerInvariant(t *testing.T) {
	for _, state := range allStates {
		for _, signal := range allSignals {
			dev := deviceIn(state)
			Apply(dev, Report{Signal: signal})
			assert.Equal(t, dev.State.Owned(), dev.OwnerID != nil, "owner invariant broken: %s after %s", dev.State, signal)
		}
	}
}

func TestAdministrativeTransitions(t *testing.T) {
	testCases := []struct {
		name        string
		apply       func(*model.Device) Transition
		wantState   model.DeviceState
		wantCommand model.DeviceState
		wantCheck   bool
	}{
		{"deprovision", Deprovision, model.StateWantDeprovision, model.StateWantDeprovision, false},
		{"provision", Provision, model.StateWantProvision, model.StateWantProvision, false},
		{"disable", Disable, model.StateDisabled, model.StateWantDeprovision, false},
		{"ready", Ready, model.StateReady, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := deviceIn(model.StateInUse)
			tr := tc.apply(dev)

			assert.Equal(t, tc.wantState, dev.State)
			assert.Equal(t, tc.wantCommand, tr.Command)
			assert.Equal(t, tc.wantCheck, tr.CheckQueue)
			assert.True(t, tr.CancelTimer)
			require.NotNil(t, tr.PrevOwner)
			assert.Equal(t, int64(42), *tr.PrevOwner)
			assert.Nil(t, dev.OwnerID)
			assert.Nil(t, dev.Expiration)
		})
	}
}

func TestAssign(t *testing.T) {
	dev := deviceIn(model.StateReady)
	tr := Assign(dev, 7)

	assert.Equal(t, model.StateReady, tr.From)
	assert.Equal(t, model.StateInQueue, tr.To)
	require.NotNil(t, dev.OwnerID)
	assert.Equal(t, int64(7), *dev.OwnerID)
}

// reportEdges lists every state change an agent report may cause.
var reportEdges = map[model.DeviceState][]model.DeviceState{
	model.StateWantProvision:   {model.StateReady},
	model.StateWantDeprovision: {model.StateWantProvision},
	model.StateInQueue:         {model.StateInUse},
}

// allowed reports whether an agent report may move a device from one state
// to another. Either failure state is reachable from anywhere.
func allowed(from, to model.DeviceState) bool {
	if from == to || to.Failed() {
		return true
	}
	for _, next := range reportEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
