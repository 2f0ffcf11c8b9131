// Package logging provides structured logging for the ADMS server.
//
// It wraps log/slog so every entry carries the service name and build
// version, and offers JSON output for production and text output for
// development.
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
//	pushLogger := logger.Component("push")
//	pushLogger.Info("device connected", "serial_number", sn)
//
// Never log secrets, tokens or passwords. Device user passwords pushed
// through the operator API are never logged either.
package logging
