package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every hub topic when none is configured.
const DefaultTopicPrefix = "busnephew"

// Topics builds the hub's MQTT topic names under a configurable prefix.
//
// Hierarchy:
//
//	{prefix}/transit/update              in   transit snapshot (retained by publisher)
//	{prefix}/command/device/{deviceId}   in   {type, data} routed to one device
//	{prefix}/command/broadcast           in   {type, data, deviceFilter}
//	{prefix}/event/device/{deviceId}     out  device lifecycle events
//	{prefix}/system/status               out  hub online/offline (retained, LWT)
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, or for DefaultTopicPrefix when
// prefix is empty. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// TransitUpdate is where the transit feed publishes snapshots.
//
// Example: busnephew/transit/update
func (t Topics) TransitUpdate() string {
	return t.root() + "/transit/update"
}

// DeviceCommand is the command topic for one device.
//
// Example: busnephew/command/device/3f2a...
func (t Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/device/%s", t.root(), deviceID)
}

// AllDeviceCommands matches every device command topic.
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommand("+")
}

// BroadcastCommand is the topic for filtered broadcasts.
func (t Topics) BroadcastCommand() string {
	return t.root() + "/command/broadcast"
}

// DeviceEvent is where lifecycle events for one device are published.
func (t Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/device/%s", t.root(), deviceID)
}

// AllDeviceEvents matches every device event topic.
func (t Topics) AllDeviceEvents() string {
	return t.DeviceEvent("+")
}

// SystemStatus carries the hub's retained online/offline state.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// DeviceIDFromCommand extracts the device id from a DeviceCommand topic.
func (t Topics) DeviceIDFromCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.root()+"/command/device/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
