package device

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Registry is the authoritative in-memory store of device records.
//
// Records are keyed by an id the registry allocates at registration. Ids are
// never reused for the life of the registry, and records are only removed by
// Clear. Every read returns a deep copy, so callers never observe a record
// mid-update and cannot mutate registry state.
//
// All public methods are thread-safe. Compound operations spanning the
// registry and the connection table are serialised by the hub, not here.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	now     func() time.Time
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the time source used for LastSeen and RegisteredAt.
// Intended for tests; call before the registry is shared.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Register validates reg and creates a connected record for it.
//
// The returned device is a copy of the stored record. Validation failures
// are returned as *ValidationError and nothing is stored.
func (r *Registry) Register(reg Registration) (*Device, error) {
	if err := ValidateRegistration(&reg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for r.devices[id] != nil {
		id = uuid.NewString()
	}

	now := r.now()
	dev := &Device{
		ID:           id,
		Name:         reg.Name,
		Type:         reg.Type,
		Status:       StatusConnected,
		LastSeen:     now,
		Capabilities: slices.Clone(reg.Capabilities),
		Config:       deepCopyMap(reg.Config),
		RegisteredAt: now,
	}
	if dev.Config == nil {
		dev.Config = Config{}
	}
	if reg.Location != nil {
		loc := *reg.Location
		dev.Location = &loc
	}
	r.devices[id] = dev

	r.logger.Info("device registered", "device_id", id, "name", dev.Name, "type", dev.Type)
	return dev.DeepCopy(), nil
}

// MarkDisconnected moves a record to disconnected.
// Returns false when the id is unknown or the record was already disconnected.
func (r *Registry) MarkDisconnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok || dev.Status == StatusDisconnected {
		return false
	}
	dev.Status = StatusDisconnected
	return true
}

// TouchHeartbeat records liveness for a device.
//
// LastSeen is set to now and a record in any other status returns to
// connected. The status before the touch is returned so callers can detect
// recovery from error. ok is false when the id is unknown.
func (r *Registry) TouchHeartbeat(id string) (prev Status, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return "", false
	}
	prev = dev.Status
	dev.LastSeen = r.now()
	if dev.Status != StatusConnected {
		dev.Status = StatusConnected
	}
	return prev, true
}

// MarkError moves a record to error. Used by the heartbeat monitor.
// Returns false when the id is unknown.
func (r *Registry) MarkError(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return false
	}
	dev.Status = StatusError
	return true
}

// UpdateConfig merges partial into the device's config.
// Top-level keys in partial replace existing keys; other keys are kept.
// Returns false when the id is unknown.
func (r *Registry) UpdateConfig(id string, partial Config) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return false
	}
	if dev.Config == nil {
		dev.Config = Config{}
	}
	for k, v := range partial {
		dev.Config[k] = deepCopyValue(v)
	}
	return true
}

// Get retrieves a device by id.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev.DeepCopy(), nil
}

// StaleConnected returns the ids of connected devices last seen before cutoff.
func (r *Registry) StaleConnected(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, dev := range r.devices {
		if dev.Status == StatusConnected && dev.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// List returns copies of every record, oldest registration first.
func (r *Registry) List() []Device {
	return r.ListFunc(nil)
}

// ListFunc returns copies of every record for which match returns true.
// A nil match selects every record. match sees a copy and must not block.
func (r *Registry) ListFunc(match func(*Device) bool) []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		cpy := dev.DeepCopy()
		if match == nil || match(cpy) {
			devices = append(devices, *cpy)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return devices
}

// ListByStatus returns devices currently in status s.
func (r *Registry) ListByStatus(s Status) []Device {
	return r.ListFunc(func(d *Device) bool { return d.Status == s })
}

// ListByType returns devices of type t.
func (r *Registry) ListByType(t Type) []Device {
	return r.ListFunc(func(d *Device) bool { return d.Type == t })
}

// ListByCapability returns devices advertising capability c.
func (r *Registry) ListByCapability(c string) []Device {
	return r.ListFunc(func(d *Device) bool { return d.HasCapability(c) })
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns record counts by status and type.
// Every status and type appears in the maps, zero when absent.
func (r *Registry) Stats() Stats {
	stats := Stats{
		ByStatus: make(map[Status]int, len(AllStatuses())),
		ByType:   make(map[Type]int, len(AllTypes())),
	}
	for _, s := range AllStatuses() {
		stats.ByStatus[s] = 0
	}
	for _, t := range AllTypes() {
		stats.ByType[t] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats.Total = len(r.devices)
	for _, dev := range r.devices {
		stats.ByStatus[dev.Status]++
		stats.ByType[dev.Type]++
	}
	return stats
}

// Clear removes every record. Used only during hub shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.devices)
	clear(r.devices)
	r.logger.Debug("registry cleared", "count", n)
}
