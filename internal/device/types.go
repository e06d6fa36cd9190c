package device

import (
	"slices"
	"time"
)

// Type classifies what kind of hardware endpoint a device is.
type Type string

// Supported device types.
const (
	TypeDisplay    Type = "display"
	TypeSensor     Type = "sensor"
	TypeController Type = "controller"
	TypeKiosk      Type = "kiosk"
)

// AllTypes returns every recognised device type.
func AllTypes() []Type {
	return []Type{TypeDisplay, TypeSensor, TypeController, TypeKiosk}
}

// Valid reports whether t is a recognised device type.
func (t Type) Valid() bool {
	return slices.Contains(AllTypes(), t)
}

// Status is the lifecycle state of a device record.
//
//	connected ──(transport closed)──▶ disconnected
//	connected ──(heartbeat timeout)─▶ error
//	error     ──(heartbeat)─────────▶ connected
//	error     ──(transport closed)──▶ disconnected
//
// A disconnected record is terminal; a reconnecting device registers afresh
// and receives a new id.
type Status string

// Device statuses.
const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// AllStatuses returns every device status.
func AllStatuses() []Status {
	return []Status{StatusConnected, StatusDisconnected, StatusError}
}

// Valid reports whether s is a recognised status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses(), s)
}

// Well-known capabilities. Devices may advertise any string; these are the
// ones the hub itself acts on.
const (
	CapabilityTransitDisplay = "transit_display"
)

// Config is the open key/value configuration of a device.
// Updates are merged shallowly: top-level keys in the update replace
// existing keys, absent keys are kept.
type Config map[string]any

// Location is an optional geographic position for a device.
type Location struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description,omitempty"`
}

// Device is the hub's record of one hardware endpoint.
//
// Records are created by registration and never removed while the hub runs;
// a disconnect only changes Status.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"lastSeen"`
	Capabilities []string  `json:"capabilities"`
	Config       Config    `json:"config"`
	Location     *Location `json:"location,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// HasCapability reports whether the device advertises capability c.
func (d *Device) HasCapability(c string) bool {
	return slices.Contains(d.Capabilities, c)
}

// HasAllCapabilities reports whether the device advertises every capability in cs.
func (d *Device) HasAllCapabilities(cs []string) bool {
	for _, c := range cs {
		if !d.HasCapability(c) {
			return false
		}
	}
	return true
}

// DeepCopy returns a copy of the device that shares no mutable state with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Config = deepCopyMap(d.Config)
	if d.Capabilities != nil {
		cpy.Capabilities = slices.Clone(d.Capabilities)
	}
	if d.Location != nil {
		loc := *d.Location
		cpy.Location = &loc
	}
	return &cpy
}

// Registration is the payload a device sends to announce itself.
type Registration struct {
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Capabilities []string  `json:"capabilities"`
	Config       Config    `json:"config,omitempty"`
	Location     *Location `json:"location,omitempty"`
}

// Stats summarises the registry.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`
	ByType   map[Type]int   `json:"byType"`
}

// Connected returns the number of connected devices.
func (s Stats) Connected() int { return s.ByStatus[StatusConnected] }

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}
	cpy := make(M, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Config:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
