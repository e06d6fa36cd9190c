// Package influxdb writes hub telemetry to InfluxDB v2.
//
// Two measurements are produced:
//
//	device_events  kind, device_type tags; device_id, count fields
//	hub_stats      devices, connections, sessions, status_<status>, type_<type> fields
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceEvent("registered", dev.ID, string(dev.Type), time.Now())
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller. Asynchronous write failures are delivered to the
// SetOnError callback.
package influxdb
