package hub

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// Default liveness settings.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second

	defaultServiceName = "Bus Nephew Hardware Hub"
)

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	// HeartbeatInterval is the period of the liveness sweep.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long a connected device may stay silent
	// before it is moved to error.
	HeartbeatTimeout time.Duration

	// FrameRate and FrameBurst throttle inbound frames per connection.
	// A zero FrameRate disables throttling.
	FrameRate  rate.Limit
	FrameBurst int

	// ServiceName appears in the connection_established greeting.
	ServiceName string

	Logger Logger
}

// Hub owns the device registry, the connection table and the heartbeat
// monitor, and routes messages between them and connected devices.
//
// Registration, disconnect, heartbeat, config merges and monitor sweeps are
// serialised by a single lifecycle lock, so the registry and the connection
// table never disagree outside the window between a transport failing and
// its session cleaning up. No network I/O happens while that lock is held.
type Hub struct {
	opts     Options
	logger   Logger
	registry *device.Registry
	conns    *connTable
	monitor  *Monitor

	lifecycle sync.Mutex

	sessionsMu sync.Mutex
	sessions   map[*session]struct{}

	cfgMu     sync.RWMutex
	observers []Observer
	transit   TransitSource

	stopMonitor context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool
	closed      atomic.Bool
}

// New creates a hub around registry. The hub does nothing until Start.
func New(registry *device.Registry, opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	if opts.Logger == nil {
		opts.Logger = device.NoopLogger()
	}

	RegisterMetrics()

	h := &Hub{
		opts:     opts,
		logger:   opts.Logger,
		registry: registry,
		conns:    newConnTable(),
		sessions: make(map[*session]struct{}),
	}
	h.monitor = &Monitor{hub: h, interval: opts.HeartbeatInterval, timeout: opts.HeartbeatTimeout}
	return h
}

// AddObserver subscribes o to device lifecycle events.
func (h *Hub) AddObserver(o Observer) {
	h.cfgMu.Lock()
	h.observers = append(h.observers, o)
	h.cfgMu.Unlock()
}

// SetTransitSource sets where transit_data_request is answered from.
func (h *Hub) SetTransitSource(src TransitSource) {
	h.cfgMu.Lock()
	h.transit = src
	h.cfgMu.Unlock()
}

func (h *Hub) transitSource() TransitSource {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.transit
}

// Start launches the heartbeat monitor. It returns immediately; the monitor
// stops on Close or when ctx is cancelled. Calling Start twice is a no-op.
func (h *Hub) Start(ctx context.Context) {
	if h.closed.Load() || !h.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.stopMonitor = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.monitor.Run(ctx)
	}()
	h.logger.Info("hub started",
		"heartbeat_interval", h.opts.HeartbeatInterval.String(),
		"heartbeat_timeout", h.opts.HeartbeatTimeout.String())
}

// Monitor returns the hub's heartbeat monitor.
func (h *Hub) Monitor() *Monitor {
	return h.monitor
}

// Close stops the monitor, closes every open transport and clears the
// registry and connection table. It is safe to call more than once.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	if h.stopMonitor != nil {
		h.stopMonitor()
	}
	h.wg.Wait()

	h.lifecycle.Lock()
	bound := h.conns.drain()
	h.registry.Clear()
	h.lifecycle.Unlock()
	ConnectedDevices.Set(0)

	h.sessionsMu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessionsMu.Unlock()

	for _, t := range bound {
		t.Close() //nolint:errcheck // best effort during shutdown
	}
	for _, s := range sessions {
		s.conn.Close() //nolint:errcheck // best effort during shutdown
	}

	h.logger.Info("hub closed", "transports", len(bound), "sessions", len(sessions))
	return nil
}

// Collaborator API.

// Registry returns the underlying registry for read-only queries.
func (h *Hub) Registry() *device.Registry {
	return h.registry
}

// List returns copies of every device record.
func (h *Hub) List() []device.Device {
	return h.registry.List()
}

// Get returns a copy of one device record or device.ErrDeviceNotFound.
func (h *Hub) Get(id string) (*device.Device, error) {
	return h.registry.Get(id)
}

// Stats returns registry counts by status and type.
func (h *Hub) Stats() device.Stats {
	return h.registry.Stats()
}

// ConnectionCount returns the number of bound transports.
func (h *Hub) ConnectionCount() int {
	return h.conns.count()
}

// SessionCount returns the number of live connections, registered or not.
func (h *Hub) SessionCount() int {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	return len(h.sessions)
}

// UpdateConfig merges partial into the device's config and pushes the merged
// config to the device as config_update. Returns false when the id is
// unknown. Delivery of the push is best-effort and does not affect the result.
func (h *Hub) UpdateConfig(id string, partial device.Config) bool {
	h.lifecycle.Lock()
	ok := h.registry.UpdateConfig(id, partial)
	var dev *device.Device
	if ok {
		dev, _ = h.registry.Get(id) //nolint:errcheck // present: updated under the same lock
	}
	h.lifecycle.Unlock()

	if !ok {
		return false
	}

	if msg, err := NewMessage(TypeConfigUpdate, id, ConfigUpdate{Config: dev.Config}); err == nil {
		h.SendTo(id, msg)
	}
	h.notify(device.NewEvent(device.EventConfigUpdated, id, dev, map[string]any{"keys": configKeys(partial)}))
	return true
}

// Lifecycle transitions driven by sessions.

func (h *Hub) register(t Transport, reg device.Registration) (*device.Device, error) {
	h.lifecycle.Lock()
	if h.closed.Load() {
		h.lifecycle.Unlock()
		return nil, ErrHubClosed
	}
	dev, err := h.registry.Register(reg)
	if err == nil {
		h.conns.bind(dev.ID, t)
	}
	bound := h.conns.count()
	h.lifecycle.Unlock()

	if err != nil {
		return nil, err
	}
	ConnectedDevices.Set(float64(bound))
	Registrations.Inc()
	h.notify(device.NewEvent(device.EventRegistered, dev.ID, dev, map[string]any{"capabilities": dev.Capabilities}))
	return dev, nil
}

func (h *Hub) disconnect(id string, t Transport) {
	h.lifecycle.Lock()
	changed := h.registry.MarkDisconnected(id)
	h.conns.unbindIf(id, t)
	bound := h.conns.count()
	var dev *device.Device
	if changed {
		dev, _ = h.registry.Get(id) //nolint:errcheck // present: changed under the same lock
	}
	h.lifecycle.Unlock()

	ConnectedDevices.Set(float64(bound))
	if changed {
		h.logger.Info("device disconnected", "device_id", id)
		h.notify(device.NewEvent(device.EventDisconnected, id, dev, nil))
	}
}

func (h *Hub) heartbeat(id string) bool {
	h.lifecycle.Lock()
	prev, ok := h.registry.TouchHeartbeat(id)
	var dev *device.Device
	if ok && prev == device.StatusError {
		dev, _ = h.registry.Get(id) //nolint:errcheck // present: touched under the same lock
	}
	h.lifecycle.Unlock()

	if dev != nil {
		h.logger.Info("device recovered", "device_id", id)
		h.notify(device.NewEvent(device.EventRecovered, id, dev, nil))
	}
	return ok
}

func (h *Hub) reportStatus(id string, status device.Config) bool {
	h.lifecycle.Lock()
	ok := h.registry.UpdateConfig(id, status)
	h.lifecycle.Unlock()

	if ok {
		h.notify(device.NewEvent(device.EventStatusReported, id, nil, map[string]any{"keys": configKeys(status)}))
	}
	return ok
}

func (h *Hub) addSession(s *session) bool {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	if h.closed.Load() {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) removeSession(s *session) {
	h.sessionsMu.Lock()
	delete(h.sessions, s)
	h.sessionsMu.Unlock()
}

func (h *Hub) notify(ev device.Event) {
	h.cfgMu.RLock()
	observers := h.observers
	h.cfgMu.RUnlock()

	for _, o := range observers {
		o.ObserveDeviceEvent(ev)
	}
}

func configKeys(c device.Config) []string {
	return slices.Sorted(maps.Keys(c))
}
