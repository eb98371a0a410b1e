// Package logging provides structured logging for brokerwatch.
//
// Logger embeds *slog.Logger, so callers use the slog methods directly.
// Every entry carries service and version fields. File output rotates by
// size through lumberjack.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/brokerwatch.log"
//	    max_size: 50     # megabytes
//	    max_backups: 4
//	    max_age: 10      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Warn("broker connection closed", "broker", url)
//
// Attributes whose key contains "password", "token" or "secret" are written
// as "[redacted]". Credentials embedded in broker URLs are not caught by
// this; pass URLs through broker.Redact first.
package logging
