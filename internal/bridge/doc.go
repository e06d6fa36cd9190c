// Package bridge links the hub to the MQTT broker.
//
//	transit feed ──{prefix}/transit/update──▶ Bridge ──transit_update──▶ displays
//	back office ──{prefix}/command/device/+──▶ Bridge ──SendTo──▶ one device
//	back office ──{prefix}/command/broadcast─▶ Bridge ──Broadcast──▶ filtered devices
//	hub observers ──device.Event──▶ Bridge ──{prefix}/event/device/{id}──▶ subscribers
//
// Command payloads use the same shape as the operator API:
//
//	{"type": "display_update", "data": {...}, "deviceFilter": {"capabilities": ["transit_display"]}}
//
// The latest transit snapshot is kept in memory and answers
// transit_data_request through hub.TransitSource.
package bridge
