package hub

import (
	"context"
	"time"

	"github.com/nerrad567/busnephew-hub/internal/device"
)

// Monitor periodically moves silent devices to error.
//
// Each sweep considers only connected devices. A device whose last heartbeat
// is older than the timeout is marked error and sent a best-effort
// heartbeat_timeout. Its binding is kept: a later heartbeat on the same
// connection brings it back to connected.
type Monitor struct {
	hub      *Hub
	interval time.Duration
	timeout  time.Duration
}

// Run sweeps every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep runs one liveness check as of now and returns how many devices were
// moved to error.
func (m *Monitor) Sweep(now time.Time) int {
	h := m.hub
	cutoff := now.Add(-m.timeout)

	h.lifecycle.Lock()
	stale := h.registry.StaleConnected(cutoff)
	timedOut := make([]*device.Device, 0, len(stale))
	for _, id := range stale {
		if h.registry.MarkError(id) {
			if dev, err := h.registry.Get(id); err == nil {
				timedOut = append(timedOut, dev)
			}
		}
	}
	h.lifecycle.Unlock()

	for _, dev := range timedOut {
		HeartbeatTimeouts.Inc()
		h.logger.Warn("device heartbeat timeout",
			"device_id", dev.ID,
			"name", dev.Name,
			"last_seen", dev.LastSeen.Format(time.RFC3339))

		if msg, err := NewMessage(TypeHeartbeatTimeout, dev.ID, HeartbeatTimeout{Timeout: true}); err == nil {
			h.SendTo(dev.ID, msg)
		}
		h.notify(device.NewEvent(device.EventHeartbeatTimeout, dev.ID, dev, map[string]any{
			"lastSeen": dev.LastSeen.Format(time.RFC3339),
		}))
	}
	return len(timedOut)
}
