package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "busnephew"
	metricSubsystem = "hub"
)

// Prometheus collectors for the hub. They are registered with the default
// registry by RegisterMetrics and served by the API at /metrics.
var (
	ConnectedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "connected_devices",
			Help:      "Number of devices bound to a live transport",
		},
	)

	Registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "registrations_total",
			Help:      "Successful device registrations",
		},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "messages_sent_total",
			Help:      "Outbound messages routed to devices, by type and result",
		},
		[]string{"type", "result"},
	)

	FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "frames_received_total",
			Help:      "Inbound frames from devices, by message type",
		},
		[]string{"type"},
	)

	HeartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "heartbeat_timeouts_total",
			Help:      "Devices moved to error by the heartbeat monitor",
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the hub collectors with the default Prometheus
// registry. Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConnectedDevices,
			Registrations,
			MessagesSent,
			FramesReceived,
			HeartbeatTimeouts,
		)
	})
}

// frameLabel bounds the label set to known message types.
func frameLabel(t MessageType) string {
	switch t {
	case TypeDeviceRegistration, TypeHeartbeat, TypeDeviceStatus, TypeTransitDataRequest:
		return string(t)
	default:
		return "unknown"
	}
}

// messageLabel bounds the label set for outbound types, which operators may
// choose freely through the API.
func messageLabel(t MessageType) string {
	switch t {
	case TypeRegistrationSuccess, TypeHeartbeatAck, TypeHeartbeatTimeout, TypeConfigUpdate,
		TypeTransitDataResponse, TypeConnectionEstablished, TypeError, TypeTransitUpdate:
		return string(t)
	default:
		return "custom"
	}
}

func sendResult(ok bool) string {
	if ok {
		return "delivered"
	}
	return "failed"
}
