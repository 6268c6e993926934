// Package logging provides structured logging for the mfcd daemon.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields. The resulting *Logger satisfies the Logger
// interfaces of the instrument, device, controller and safety packages.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Safety-critical events (emergency stop, purge fallback) are logged at
// error level with severity=critical; use Critical for them.
package logging
