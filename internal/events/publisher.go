// Package events mirrors committed device states to MQTT. Every device has a
// retained topic <prefix>/device/<name>/state holding its latest state.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/model"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
)

// client is the part of pahomqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// DeviceState is the payload of a device state topic.
type DeviceState struct {
	Device  string            `json:"device"`
	TypeID  int64             `json:"type_id"`
	State   model.DeviceState `json:"state"`
	OwnerID *int64            `json:"owner_id,omitempty"`
	At      time.Time         `json:"at"`
}

// Publisher publishes device states.
type Publisher struct {
	client client
	prefix string
	qos    byte
	now    func() time.Time
}

// Connect dials the broker and returns a publisher. The broker holds an
// "offline" will on <prefix>/status that the publisher overwrites with
// "online" on every connect.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	statusTopic := cfg.TopicPrefix + "/status"
	qos := byte(cfg.QoS)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(statusTopic, "offline", qos, true)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Printf("Connected to MQTT broker %s", cfg.Broker)
		c.Publish(statusTopic, qos, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Printf("Lost connection to MQTT broker: %v", err)
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout after %v", cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg.TopicPrefix, qos), nil
}

func newPublisher(c client, prefix string, qos byte) *Publisher {
	return &Publisher{client: c, prefix: prefix, qos: qos, now: time.Now}
}

// Topic returns the state topic of a device.
func (p *Publisher) Topic(deviceName string) string {
	return fmt.Sprintf("%s/device/%s/state", p.prefix, deviceName)
}

// PublishDeviceState publishes dev's state as a retained message. It does
// not wait for the broker; failures are logged.
func (p *Publisher) PublishDeviceState(dev model.Device) {
	payload, err := json.Marshal(DeviceState{
		Device:  dev.Name,
		TypeID:  dev.DeviceTypeID,
		State:   dev.State,
		OwnerID: dev.OwnerID,
		At:      p.now().UTC(),
	})
	if err != nil {
		log.Printf("Error encoding state of device %s: %v", dev.Name, err)
		return
	}

	topic := p.Topic(dev.Name)
	token := p.client.Publish(topic, p.qos, true, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("Timed out publishing %s", topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("Error publishing %s: %v", topic, err)
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
