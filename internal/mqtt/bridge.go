//go:build !no_mqtt

// Package mqtt mirrors each reporting cycle to an MQTT broker and announces
// the node to Home Assistant.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string

	// ConnectWait bounds how long NewBridge waits for the first CONNACK.
	// Zero means 10s.
	ConnectWait time.Duration
}

// publisher is the part of the paho client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// State is the retained payload published after every reporting cycle.
type State struct {
	Occupancy       bool   `json:"occupancy"`
	Occupants       int    `json:"occupants"`
	FirmwareVersion string `json:"firmware_version"`
	Outcome         string `json:"outcome"`
}

// Bridge publishes report events to MQTT.
type Bridge struct {
	client publisher
	conn   pahomqtt.Client
	bus    *events.Bus
	id     identity.Identity
	prefix string
	logger *slog.Logger
	unsub  func()

	mu   sync.Mutex
	last *State
}

// NewBridge creates an MQTT bridge and starts connecting. A broker that is
// slow or unreachable is not an error: the bridge keeps the client, which
// retries in the background, and Stop disconnects it either way.
func NewBridge(bus *events.Bus, id identity.Identity, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, bus, id, cfg.TopicPrefix, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("occupancy-node-" + id.SensorID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishAvailability("online")
			b.publishDiscovery()
			b.republishState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	// The connect handler may fire before Connect returns.
	b.client = client
	b.conn = client

	wait := cfg.ConnectWait
	if wait == 0 {
		wait = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(wait) {
		b.logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", cfg.Broker)
		return b, nil
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(client publisher, bus *events.Bus, id identity.Identity, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		client: client,
		bus:    bus,
		id:     id,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
	}
}

// Start subscribes to report events.
func (b *Bridge) Start() {
	b.unsub = b.bus.On(events.EventReport, b.handleReport)
	b.logger.Info("MQTT bridge started", "topic", b.stateTopic())
}

// Stop publishes offline availability, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishAvailability("offline")
	if b.conn != nil {
		b.conn.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) stateTopic() string {
	return b.prefix + "/" + b.id.SensorID
}

func (b *Bridge) availabilityTopic() string {
	return b.stateTopic() + "/availability"
}

func (b *Bridge) handleReport(event events.Event) {
	occupants, _ := event.Data["occupants"].(int)
	outcome, _ := event.Data["outcome"].(string)

	st := &State{
		Occupancy:       occupants > 0,
		Occupants:       occupants,
		FirmwareVersion: b.id.FirmwareVersion,
		Outcome:         outcome,
	}

	b.mu.Lock()
	b.last = st
	b.mu.Unlock()

	b.publish(b.stateTopic(), mustJSON(st), true)
}

// republishState restores the retained state after a reconnect.
func (b *Bridge) republishState() {
	b.mu.Lock()
	st := b.last
	b.mu.Unlock()
	if st != nil {
		b.publish(b.stateTopic(), mustJSON(st), true)
	}
}

func (b *Bridge) publishAvailability(state string) {
	b.publish(b.availabilityTopic(), []byte(state), true)
}

func (b *Bridge) publishDiscovery() {
	msg := buildDiscovery(b.id, b.prefix)
	b.publish(msg.Topic, msg.Payload, true)
	b.logger.Info("published HA discovery", "sensor_id", b.id.SensorID)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
