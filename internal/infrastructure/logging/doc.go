// Package logging provides structured logging for the hub.
//
// It wraps log/slog so every component logs with the same handler, level and
// default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("hub").Info("device registered", "device_id", id)
//
// Never log JWT secrets or MQTT passwords.
package logging
