package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/busnephew-hub/internal/device"
	"github.com/nerrad567/busnephew-hub/internal/hub"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/mqtt"
)

const defaultQueueSize = 256

// Broker is the subset of *mqtt.Client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Router is the subset of *hub.Hub the bridge drives.
type Router interface {
	SendTo(id string, msg hub.Message) bool
	Broadcast(msg hub.Message, pred hub.Predicate) int
	BroadcastTransitUpdate(data json.RawMessage) int
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge.
type Options struct {
	Broker Broker
	Router Router
	Topics mqtt.Topics
	QoS    byte

	// QueueSize bounds the outbound device event queue.
	QueueSize int

	Logger Logger
}

// Bridge connects the hub to the MQTT side of the transit estate.
//
// Inbound it turns transit snapshots into transit_update broadcasts and
// routes device and broadcast commands. Outbound it publishes device
// lifecycle events. It also answers transit_data_request with the latest
// snapshot.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	broker Broker
	router Router
	topics mqtt.Topics
	qos    byte
	logger Logger

	transitMu sync.RWMutex
	transit   json.RawMessage

	events chan device.Event

	transitReceived atomic.Uint64
	commandsRouted  atomic.Uint64
	eventsPublished atomic.Uint64
	eventsDropped   atomic.Uint64
}

// Metrics is a snapshot of bridge counters.
type Metrics struct {
	Connected       bool   `json:"connected"`
	TransitReceived uint64 `json:"transitReceived"`
	CommandsRouted  uint64 `json:"commandsRouted"`
	EventsPublished uint64 `json:"eventsPublished"`
	EventsDropped   uint64 `json:"eventsDropped"`
}

// command is the payload of device and broadcast command topics.
type command struct {
	Type         hub.MessageType `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	DeviceFilter *hub.Filter     `json:"deviceFilter,omitempty"`
}

// New creates a bridge. Call Start to subscribe and Run to publish events.
func New(opts Options) (*Bridge, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = device.NoopLogger()
	}
	return &Bridge{
		broker: opts.Broker,
		router: opts.Router,
		topics: opts.Topics,
		qos:    opts.QoS,
		logger: opts.Logger,
		events: make(chan device.Event, opts.QueueSize),
	}, nil
}

// Start subscribes to the transit and command topics. Subscriptions survive
// reconnects.
func (b *Bridge) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.TransitUpdate(), b.handleTransit},
		{b.topics.AllDeviceCommands(), b.handleDeviceCommand},
		{b.topics.BroadcastCommand(), b.handleBroadcast},
	}
	for _, s := range subs {
		if err := b.broker.Subscribe(s.topic, b.qos, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
		b.logger.Info("bridge subscribed", "topic", s.topic)
	}
	return nil
}

// LatestTransit returns the most recent transit snapshot.
func (b *Bridge) LatestTransit() (json.RawMessage, bool) {
	b.transitMu.RLock()
	defer b.transitMu.RUnlock()
	if b.transit == nil {
		return nil, false
	}
	return bytes.Clone(b.transit), true
}

// IsConnected reports whether the broker session is up.
func (b *Bridge) IsConnected() bool {
	return b.broker.IsConnected()
}

// Metrics returns the bridge counters.
func (b *Bridge) Metrics() Metrics {
	return Metrics{
		Connected:       b.broker.IsConnected(),
		TransitReceived: b.transitReceived.Load(),
		CommandsRouted:  b.commandsRouted.Load(),
		EventsPublished: b.eventsPublished.Load(),
		EventsDropped:   b.eventsDropped.Load(),
	}
}

func (b *Bridge) handleTransit(_ string, payload []byte) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !json.Valid(payload) {
		return ErrInvalidTransit
	}
	snapshot := bytes.Clone(payload)

	b.transitMu.Lock()
	b.transit = snapshot
	b.transitMu.Unlock()
	b.transitReceived.Add(1)

	sent := b.router.BroadcastTransitUpdate(snapshot)
	b.logger.Debug("transit update broadcast", "bytes", len(snapshot), "displays", sent)
	return nil
}

func (b *Bridge) handleDeviceCommand(topic string, payload []byte) error {
	id, ok := b.topics.DeviceIDFromCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	cmd, err := decodeCommand(payload)
	if err != nil {
		return err
	}

	if !b.router.SendTo(id, cmd.message(id)) {
		return fmt.Errorf("%w: %s", ErrNotDelivered, id)
	}
	b.commandsRouted.Add(1)
	b.logger.Debug("command routed", "device_id", id, "type", cmd.Type)
	return nil
}

func (b *Bridge) handleBroadcast(_ string, payload []byte) error {
	cmd, err := decodeCommand(payload)
	if err != nil {
		return err
	}

	sent := b.router.Broadcast(cmd.message(""), cmd.DeviceFilter.Predicate())
	b.commandsRouted.Add(1)
	b.logger.Info("broadcast routed", "type", cmd.Type, "sent", sent)
	return nil
}

func decodeCommand(payload []byte) (command, error) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.Type == "" {
		return command{}, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	}
	return cmd, nil
}

func (c command) message(deviceID string) hub.Message {
	data := c.Data
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = json.RawMessage("{}")
	}
	return hub.Message{
		Type:      c.Type,
		DeviceID:  deviceID,
		Timestamp: hub.Now(),
		Data:      data,
	}
}

// ObserveDeviceEvent queues ev for publishing. It never blocks; events are
// dropped when the queue is full.
func (b *Bridge) ObserveDeviceEvent(ev device.Event) {
	select {
	case b.events <- ev:
	default:
		n := b.eventsDropped.Add(1)
		b.logger.Warn("device event dropped, bridge queue full", "kind", ev.Kind, "device_id", ev.DeviceID, "dropped_total", n)
	}
}

// Run publishes queued device events until ctx is cancelled, then publishes
// whatever is still queued. It always returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-b.events:
			b.publishEvent(ev)
		case <-ctx.Done():
			b.flush()
			return nil
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case ev := <-b.events:
			b.publishEvent(ev)
		default:
			return
		}
	}
}

func (b *Bridge) publishEvent(ev device.Event) {
	if !b.broker.IsConnected() {
		b.eventsDropped.Add(1)
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encoding device event", "kind", ev.Kind, "device_id", ev.DeviceID, "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.DeviceEvent(ev.DeviceID), payload, b.qos, false); err != nil {
		b.logger.Warn("publishing device event", "kind", ev.Kind, "device_id", ev.DeviceID, "error", err)
		return
	}
	b.eventsPublished.Add(1)
}
