package notification

import "hardware-checkout-backend/internal/model"

// Event types delivered to users.
const (
	EventAssigned  = "device_assigned"
	EventLost      = "device_lost"
	EventReclaimed = "device_reclaimed"
)

// Event is the payload pushed to a user's sessions and push endpoints.
// Loss events repeat their type in Error for clients that only look there.
type Event struct {
	Type   string `json:"type"`
	Error  string `json:"error,omitempty"`
	Device string `json:"device"`
	SSH    string `json:"ssh,omitempty"`
	Web    string `json:"web,omitempty"`
	WebRO  string `json:"webro,omitempty"`
}

// Assigned builds the event telling a user which device they got.
func Assigned(dev model.Device) Event {
	return Event{
		Type:   EventAssigned,
		Device: dev.Name,
		SSH:    model.Endpoint(dev.SSHAddr),
		Web:    model.Endpoint(dev.WebURL),
		WebRO:  model.Endpoint(dev.ROURL),
	}
}

// Lost builds a device_lost event.
func Lost(device string) Event {
	return Event{Type: EventLost, Error: EventLost, Device: device}
}

// Reclaimed builds a device_reclaimed event.
func Reclaimed(device string) Event {
	return Event{Type: EventReclaimed, Error: EventReclaimed, Device: device}
}
