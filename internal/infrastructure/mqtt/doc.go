// Package mqtt connects the hub to an MQTT broker.
//
// The broker is the hub's link to the rest of the transit estate: the
// transit feed publishes snapshots, back-office systems send device
// commands, and the hub publishes device lifecycle events and its own
// online/offline status. Topic names are built by Topics under a
// configurable prefix.
//
// Connection handling:
//   - auto-reconnect with the configured backoff bounds
//   - subscriptions restored after every reconnect
//   - retained status with a Last Will so subscribers see crashes
//   - handler panics recovered and logged
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	client.Subscribe(topics.TransitUpdate(), 1, onTransit)
package mqtt
