// Package telemetry records hub activity as InfluxDB time series.
package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/busnephew-hub/internal/device"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/influxdb"
)

// DefaultStatsInterval is the hub_stats sampling period.
const DefaultStatsInterval = 60 * time.Second

// Writer is the subset of *influxdb.Client the recorder writes through.
// Both methods must not block.
type Writer interface {
	WriteDeviceEvent(kind, deviceID, deviceType string, at time.Time)
	WriteHubStats(stats influxdb.HubStats, at time.Time)
}

// StatsSource is the subset of *hub.Hub sampled for hub_stats.
type StatsSource interface {
	Stats() device.Stats
	ConnectionCount() int
	SessionCount() int
}

// Recorder turns device lifecycle events into device_events points and
// samples the hub's population every interval.
type Recorder struct {
	writer   Writer
	source   StatsSource
	interval time.Duration
	logger   device.Logger
}

// NewRecorder creates a recorder. A non-positive interval selects
// DefaultStatsInterval.
func NewRecorder(w Writer, src StatsSource, interval time.Duration, logger device.Logger) *Recorder {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if logger == nil {
		logger = device.NoopLogger()
	}
	return &Recorder{writer: w, source: src, interval: interval, logger: logger}
}

// ObserveDeviceEvent writes one device_events point.
func (r *Recorder) ObserveDeviceEvent(ev device.Event) {
	r.writer.WriteDeviceEvent(string(ev.Kind), ev.DeviceID, string(ev.DeviceType), ev.CreatedAt)
}

// Run samples hub_stats immediately and then every interval until ctx is
// cancelled. It always returns nil.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("telemetry recorder started", "interval", r.interval.String())
	r.Sample(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.Sample(now)
		}
	}
}

// Sample writes one hub_stats point stamped at.
func (r *Recorder) Sample(at time.Time) {
	stats := r.source.Stats()

	sample := influxdb.HubStats{
		Devices:     stats.Total,
		Connections: r.source.ConnectionCount(),
		Sessions:    r.source.SessionCount(),
		ByStatus:    make(map[string]int, len(stats.ByStatus)),
		ByType:      make(map[string]int, len(stats.ByType)),
	}
	for status, n := range stats.ByStatus {
		sample.ByStatus[string(status)] = n
	}
	for typ, n := range stats.ByType {
		sample.ByType[string(typ)] = n
	}
	r.writer.WriteHubStats(sample, at)
}
