// Package hub connects hardware devices to the registry and routes messages
// to them.
//
// A Hub owns three things: the connection table (device id to live
// transport), the heartbeat Monitor and one session per open connection. Each
// session speaks the device protocol:
//
//	device                         hub
//	  │◀── connection_established ──│
//	  │─── device_registration ────▶│  Register + bind
//	  │◀── registration_success ────│
//	  │─── heartbeat ──────────────▶│  lastSeen = now
//	  │◀── heartbeat_ack ───────────│
//	  │─── device_status ──────────▶│  merged into config
//	  │─── transit_data_request ───▶│
//	  │◀── transit_data_response ───│
//	  │◀── config_update ───────────│  UpdateConfig
//	  │◀── transit_update ──────────│  BroadcastTransitUpdate
//	  │◀── heartbeat_timeout ───────│  Monitor sweep
//
// Every frame is a JSON envelope {type, deviceId, timestamp, data}; see
// Message.
//
// Collaborators (HTTP API, MQTT bridge) use SendTo, Broadcast, UpdateConfig
// and the read-only queries. Lifecycle events are fanned out to Observers
// after the hub has released its locks.
//
// Delivery is best-effort: SendTo and Broadcast never block on a slow device.
// A device whose queue is full loses the frame and the failure is logged.
package hub
