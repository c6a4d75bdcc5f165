// Package logger provides structured logging for nan.
//
// All components log through the Logger interface, passing structured fields
// as a map:
//
//	log.Info("Bundle detached", map[string]interface{}{
//	    "operation": "agent_detach",
//	    "agent_id":  "1",
//	    "bundle_id": id,
//	})
//
// # Implementations
//
// ProductionLogger renders through log/slog, either as JSON (one object per
// line, the default inside Kubernetes) or as human-readable text. NoOpLogger
// discards output and is the default for library use.
//
// # Configuration
//
// Loggers can be configured through environment variables:
//   - NAN_LOG_LEVEL: Minimum log level (debug, info, warn, error)
//   - NAN_LOG_FORMAT: Output format (json, text)
//
// # Components
//
// Child loggers carry a "component" attribute:
//
//	poolLog := logger.ForComponent(base, "memory/pool")
//
// Field conventions: "operation" names the step being logged, "error" holds
// err.Error(), identifiers use the *_id suffix.
package logger
