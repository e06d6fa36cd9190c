package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the hub.
const (
	MeasurementDeviceEvents = "device_events"
	MeasurementHubStats     = "hub_stats"
)

// HubStats is one periodic sample of the hub's population.
type HubStats struct {
	Devices     int
	Connections int
	Sessions    int
	ByStatus    map[string]int
	ByType      map[string]int
}

// WriteDeviceEvent records one device lifecycle transition.
//
// Tags are the low-cardinality dimensions (kind, device type); the device id
// is a field so a fleet of short-lived devices does not explode series.
//
// Example:
//
//	client.WriteDeviceEvent("heartbeat_timeout", "dev-1", "display", time.Now())
func (c *Client) WriteDeviceEvent(kind, deviceID, deviceType string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{"kind": kind}
	if deviceType != "" {
		tags["device_type"] = deviceType
	}

	point := write.NewPoint(
		MeasurementDeviceEvents,
		tags,
		map[string]interface{}{
			"device_id": deviceID,
			"count":     int64(1),
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteHubStats records a population sample. Per-status and per-type counts
// become fields named status_<status> and type_<type>.
func (c *Client) WriteHubStats(stats HubStats, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"devices":     int64(stats.Devices),
		"connections": int64(stats.Connections),
		"sessions":    int64(stats.Sessions),
	}
	for status, n := range stats.ByStatus {
		fields["status_"+status] = int64(n)
	}
	for typ, n := range stats.ByType {
		fields["type_"+typ] = int64(n)
	}

	point := write.NewPoint(MeasurementHubStats, map[string]string{}, fields, at)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
