/*
Package log provides structured logging for sessiond using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initialize once at startup, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("lifecycle")
	logger.Info().Str("session_uuid", uuid).Msg("Session created")

Session-scoped loggers carry the session UUID on every line:

	slog := log.WithSessionID(uuid)
	slog.Warn().Msg("Pod not ready yet")
*/
package log
