// Package logging provides structured logging for Gray Logic Hub.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
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
//	logger := logging.New(cfg.Logging, version)
//	hubLog := logger.Component("hub")
//	hubLog.Info("device channel opened", "device_id", 42)
//
// Never log tokens or MQTT credentials.
package logging
